package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/IshaanNene/CartKeeper/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cartkeeper",
		Short: "CartKeeper: save products from any shop and sync them across devices",
		Long: `CartKeeper captures product details (title, price, image, variants) from
shop pages and keeps one product list in sync across your devices.

Commands:
  • extract  capture a product page from the command line
  • serve    run the sync API backed by memory, MongoDB or PostgreSQL
  • sync     run one sync cycle for this device
  • agent    keep this device in sync in the background
  • status   show the server-side product breakdown
  • export   write the local product list to JSON, JSONL or CSV
  • list     show saved products by category
  • category move a saved product to another category
  • rm       delete a saved product (removed remotely on the next sync)
  • archive  archive a product on the server, or list the archive
  • restore  bring an archived product back
  • purge    permanently delete an archived product`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// setupLogger creates the structured logger described by cfg.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CartKeeper %s\n", config.Version)
		},
	}
}

// configCmd prints the effective configuration with secrets masked.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg.Sync.Token = mask(cfg.Sync.Token)
			cfg.Server.JWTSecret = mask(cfg.Server.JWTSecret)
			cfg.Storage.PostgresDSN = mask(cfg.Storage.PostgresDSN)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Print(string(out))
			if err := config.Validate(cfg); err != nil {
				fmt.Printf("\n# invalid: %v\n", err)
			}
			return nil
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
