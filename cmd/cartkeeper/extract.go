package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/store"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

var (
	extractBrowser  bool
	extractRemote   bool
	extractSave     bool
	extractCategory string
	extractJSON     bool
)

// extractCmd creates the "extract" subcommand.
func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [url]",
		Short: "Capture a product from a shop page",
		Long: `Fetch a product page and extract title, price, original price, image
and variants. Pages that cannot be read still produce a fallback draft.`,
		Args: cobra.ExactArgs(1),
		RunE: runExtract,
	}

	cmd.Flags().BoolVar(&extractBrowser, "browser", false, "render the page in headless Chromium")
	cmd.Flags().BoolVar(&extractRemote, "remote", false, "extract on the sync server instead of locally")
	cmd.Flags().BoolVarP(&extractSave, "save", "s", false, "save the product to the local cache")
	cmd.Flags().StringVar(&extractCategory, "category", "", "category to save the product under")
	cmd.Flags().BoolVar(&extractJSON, "json", false, "print the draft as JSON")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateURL(args[0]); err != nil {
		return fmt.Errorf("invalid URL %q: %w", args[0], err)
	}
	if extractBrowser {
		cfg.Extractor.FetcherType = types.FetcherBrowser
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var draft types.Draft
	if extractRemote {
		d, err := newSyncClient(cfg, logger).Extract(ctx, args[0])
		if err != nil {
			return fmt.Errorf("remote extract: %w", err)
		}
		draft = *d
	} else {
		capture, fetchers, err := buildCapture(cfg, observability.NewMetrics(logger), logger)
		if err != nil {
			return err
		}
		defer fetchers.Close()

		res, err := capture.Capture(ctx, args[0])
		if err != nil {
			return err
		}
		draft = res.Draft
	}

	if extractJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(draft); err != nil {
			return err
		}
	} else {
		printDraft(draft)
	}

	if !extractSave {
		return nil
	}

	local, err := store.Open(cfg.Sync.StatePath, logger)
	if err != nil {
		return err
	}
	saved, err := local.Add(draft.ToProduct(extractCategory))
	if errors.Is(err, types.ErrDuplicateURL) {
		fmt.Println("\nAlready saved.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	fmt.Printf("\nSaved as %s in %q\n", saved.ID, saved.Category)
	return nil
}

func printDraft(d types.Draft) {
	site := d.DisplaySite
	if site == "" {
		site = d.Site
	}
	fmt.Printf("Title:      %s\n", d.Title)
	fmt.Printf("Site:       %s\n", site)
	fmt.Printf("Price:      %s\n", orDash(d.Price))
	if d.OriginalPrice != "" {
		fmt.Printf("Was:        %s\n", d.OriginalPrice)
	}
	if d.Image != "" {
		fmt.Printf("Image:      %s\n", d.Image)
	}
	if !d.Variants.IsEmpty() {
		fmt.Printf("Variants:   size=%s color=%s style=%s\n",
			orDash(d.Variants.Size), orDash(d.Variants.Color), orDash(d.Variants.Style))
	}
	fmt.Printf("Method:     %s (%s confidence)\n", d.ExtractionMethod, d.Confidence)
	if d.Degraded != "" {
		fmt.Printf("Degraded:   %s\n", d.Degraded)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
