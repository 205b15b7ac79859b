package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/store"
	"github.com/IshaanNene/CartKeeper/internal/syncclient"
	"github.com/IshaanNene/CartKeeper/internal/syncer"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

var (
	syncStrategy string
	syncPush     bool
)

func newSyncClient(cfg *config.Config, logger *slog.Logger) *syncclient.Client {
	return syncclient.New(syncclient.Options{
		BaseURL:           cfg.Sync.ServerURL,
		Token:             cfg.Sync.Token,
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		Burst:             cfg.Sync.Burst,
		Timeout:           cfg.Sync.Timeout,
	}, logger)
}

// newEngine opens the local cache and connects it to the sync server.
func newEngine(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*syncer.Engine, *store.Store, error) {
	if cfg.Sync.Token == "" {
		return nil, nil, fmt.Errorf("sync.token is not set (set %s_SYNC_TOKEN)", config.EnvPrefix)
	}
	local, err := store.Open(cfg.Sync.StatePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return syncer.NewEngine(local, newSyncClient(cfg, logger), metrics, logger), local, nil
}

// syncCmd creates the "sync" subcommand.
func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle with the server",
		Long: `Download the server's products, merge them with the local cache by
last-modified time, and upload the result. With --push the local cache
replaces the server's list exactly, which is how local deletions propagate.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().StringVar(&syncStrategy, "strategy", "", "upload strategy: replace or merge (overrides sync.strategy)")
	cmd.Flags().BoolVar(&syncPush, "push", false, "make the server list exactly match this device")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if syncStrategy != "" {
		cfg.Sync.Strategy = syncStrategy
	}
	strategy, err := syncer.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return err
	}

	engine, _, err := newEngine(cfg, observability.NewMetrics(logger), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res syncer.Result
	if syncPush {
		res, err = engine.Push(ctx)
	} else {
		res, err = engine.Sync(ctx, strategy)
	}
	if err != nil {
		var ae *types.AuthError
		if errors.As(err, &ae) {
			return fmt.Errorf("%w; sign in again and update sync.token", err)
		}
		return err
	}

	if res.Skipped {
		fmt.Println("A sync is already running.")
		return nil
	}
	fmt.Printf("Sync complete in %s (%s)\n", res.Duration.Round(time.Millisecond), res.Strategy)
	fmt.Printf("   Received:  %d\n", res.Received)
	fmt.Printf("   Sent:      %d\n", res.Sent)
	fmt.Printf("   Removed:   %d\n", res.Removed)
	fmt.Printf("   Local:     %d products\n", res.Local)
	return nil
}

// agentCmd creates the "agent" subcommand.
func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Keep this device in sync in the background",
		Long: `Sync on start, on an interval, and shortly after every local change,
including products saved by other cartkeeper commands. Network failures
back off exponentially; an expired token stops the agent.`,
		Args: cobra.NoArgs,
		RunE: runAgent,
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := syncer.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(logger)
	engine, local, err := newEngine(cfg, metrics, logger)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer srv.Close()
	}

	scheduler := syncer.NewScheduler(engine, syncer.SchedulerOptions{
		Strategy:  strategy,
		Interval:  cfg.Scheduler.Interval,
		BaseDelay: cfg.Scheduler.BaseDelay,
		MaxDelay:  cfg.Scheduler.MaxDelay,
		Debounce:  cfg.Scheduler.Debounce,
	}, logger)
	local.OnChange(scheduler.Notify)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Saves from other cartkeeper processes reach the scheduler through the
	// file watcher.
	go func() {
		if err := local.Watch(ctx); err != nil {
			logger.Warn("not watching the local cache; changes sync on the interval only", "error", err)
		}
	}()

	logger.Info("sync agent running",
		"server", cfg.Sync.ServerURL,
		"device", local.DeviceID(),
		"cache", local.Path(),
	)
	if err := scheduler.Run(ctx); err != nil {
		return fmt.Errorf("sync agent stopped: %w", err)
	}
	logger.Info("sync agent stopped")
	return nil
}

// statusCmd creates the "status" subcommand.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local and server product counts",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := store.Open(cfg.Sync.StatePath, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Device %s\n", local.DeviceID())
	fmt.Printf("   Local products: %d\n", len(local.Products()))
	if last := local.LastSyncTime(); last != nil {
		fmt.Printf("   Last sync:      %s\n", last.Local().Format(time.RFC1123))
	} else {
		fmt.Printf("   Last sync:      never\n")
	}

	if cfg.Sync.Token == "" {
		fmt.Println("\nNot signed in; set sync.token to see the server status.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout)
	defer cancel()
	st, err := newSyncClient(cfg, logger).Status(ctx)
	if err != nil {
		return fmt.Errorf("server status: %w", err)
	}

	fmt.Printf("\nServer %s\n", cfg.Sync.ServerURL)
	fmt.Printf("   Products:  %d active, %d archived\n", st.TotalProducts, st.ArchivedCount)
	if st.NewestUpdate != nil {
		fmt.Printf("   Newest:    %s\n", st.NewestUpdate.Local().Format(time.RFC1123))
	}
	for _, d := range st.DeviceBreakdown {
		marker := ""
		if d.DeviceSource == local.DeviceID() {
			marker = " (this device)"
		}
		fmt.Printf("   %-38s %d%s\n", d.DeviceSource, d.Count, marker)
	}
	return nil
}
