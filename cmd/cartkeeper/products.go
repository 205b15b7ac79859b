package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/convert"
	"github.com/IshaanNene/CartKeeper/internal/store"
	"github.com/IshaanNene/CartKeeper/internal/syncclient"
)

var (
	listCategory string
	listJSON     bool
	archiveList  bool
	purgeYes     bool
)

func openLocal() (*store.Store, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Sync.StatePath, logger)
}

// remoteClient returns a sync client and a context bounded by sync.timeout.
func remoteClient() (*syncclient.Client, context.Context, context.CancelFunc, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Sync.Token == "" {
		return nil, nil, nil, fmt.Errorf("sync.token is not set (set %s_SYNC_TOKEN)", config.EnvPrefix)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
	return newSyncClient(cfg, logger), ctx, func() { cancel(); stop() }, nil
}

// listCmd creates the "list" subcommand.
func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved products by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := openLocal()
			if err != nil {
				return err
			}

			grouped := local.Grouped()
			if listCategory != "" {
				label := convert.Label(listCategory)
				grouped = convert.Grouped{label: grouped[label]}
			}

			if listJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(grouped)
			}

			labels := make([]string, 0, len(grouped))
			for label := range grouped {
				labels = append(labels, label)
			}
			sort.Strings(labels)

			total := 0
			for _, label := range labels {
				products := grouped[label]
				if len(products) == 0 {
					continue
				}
				fmt.Printf("%s (%d)\n", label, len(products))
				for _, p := range products {
					fmt.Printf("   %s  %-12s %s\n", p.ID, p.Price, p.Title)
				}
				total += len(products)
			}
			if total == 0 {
				fmt.Println("No saved products.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listCategory, "category", "", "only show this category")
	cmd.Flags().BoolVar(&listJSON, "json", false, "print the category grouping as JSON")
	return cmd
}

// categoryCmd creates the "category" subcommand.
func categoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "category <id> <category>",
		Short: "Move a saved product to another category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := openLocal()
			if err != nil {
				return err
			}
			p, err := local.SetCategory(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Moved %q to %s\n", p.Title, convert.Label(p.Category))
			return nil
		},
	}
}

// rmCmd creates the "rm" subcommand.
func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved product from this device",
		Long: `Delete a product locally. The next replace-mode sync (the default)
removes it from the server as well; use "archive" to keep a recoverable copy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := openLocal()
			if err != nil {
				return err
			}
			p, err := local.Get(args[0])
			if err != nil {
				return err
			}
			if err := local.Delete(p.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %q; the next sync removes it everywhere.\n", p.Title)
			return nil
		},
	}
}

// archiveCmd creates the "archive" subcommand.
func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive [id]",
		Short: "Archive a product on the server, or list archived products",
		Args: func(cmd *cobra.Command, args []string) error {
			if archiveList {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, done, err := remoteClient()
			if err != nil {
				return err
			}
			defer done()

			if archiveList {
				archived, err := client.ListArchived(ctx)
				if err != nil {
					return err
				}
				if len(archived) == 0 {
					fmt.Println("Nothing archived.")
					return nil
				}
				for _, a := range archived {
					fmt.Printf("   %s  %s  %s\n", a.ID, a.ArchivedAt.Local().Format(time.DateOnly), a.Title)
				}
				return nil
			}

			a, err := client.Archive(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Archived %q; devices drop it on their next sync.\n", a.Title)
			return nil
		},
	}

	cmd.Flags().BoolVar(&archiveList, "list", false, "list archived products")
	return cmd
}

// restoreCmd creates the "restore" subcommand.
func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore an archived product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, done, err := remoteClient()
			if err != nil {
				return err
			}
			defer done()

			p, err := client.Restore(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Restored %q; it returns to devices on their next sync.\n", p.Title)
			return nil
		},
	}
}

// purgeCmd creates the "purge" subcommand.
func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Permanently delete an archived product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !purgeYes {
				return fmt.Errorf("purge cannot be undone; pass --yes to confirm")
			}
			client, ctx, done, err := remoteClient()
			if err != nil {
				return err
			}
			defer done()

			if err := client.Purge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Purged %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm permanent deletion")
	return cmd
}

