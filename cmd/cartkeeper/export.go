package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/storage"
	"github.com/IshaanNene/CartKeeper/internal/store"
)

var (
	exportFormat string
	exportOutput string
)

// exportCmd creates the "export" subcommand.
func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local product list",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "output format: json, jsonl, csv")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default ./cartkeeper-export.<format>)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	format := strings.ToLower(exportFormat)
	path := exportOutput
	if path == "" {
		path = filepath.Join(".", "cartkeeper-export."+format)
	}

	local, err := store.Open(cfg.Sync.StatePath, logger)
	if err != nil {
		return err
	}
	products := local.Products()

	exp, err := storage.NewExporter(format, path, logger)
	if err != nil {
		return err
	}
	if err := exp.Write(products); err != nil {
		_ = exp.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := exp.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Printf("Exported %d products to %s (%s)\n", len(products), path, exp.Name())
	return nil
}
