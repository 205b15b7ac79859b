package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/api"
	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/extractor"
	"github.com/IshaanNene/CartKeeper/internal/fetcher"
	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/pipeline"
	"github.com/IshaanNene/CartKeeper/internal/selector"
	"github.com/IshaanNene/CartKeeper/internal/storage"
	"github.com/IshaanNene/CartKeeper/internal/variant"
)

var (
	servePort    int
	serveStorage string
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync API server",
		Long: `Serve the authenticated sync API: pull, replace, merge, status,
archive/restore/purge, and server-side product extraction.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().StringVar(&serveStorage, "storage", "", "backend store: memory, mongodb, postgres (overrides storage.type)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveStorage != "" {
		cfg.Storage.Type = serveStorage
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateServe(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	metrics := observability.NewMetrics(logger)
	capture, fetchers, err := buildCapture(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer fetchers.Close()
	if cfg.Proxy.Enabled && cfg.Proxy.HealthCheck {
		go fetchers.CheckProxies(ctx)
	}

	srv := api.NewServer(api.Options{
		Port:           cfg.Server.Port,
		JWTSecret:      cfg.Server.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        config.Version,
	}, backend, capture, metrics, logger)

	logger.Info("starting server",
		"port", cfg.Server.Port,
		"storage", backend.Name(),
		"fetcher", cfg.Extractor.FetcherType,
	)
	return srv.Run(ctx)
}

// openBackend connects the configured server-side product store.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "mongodb":
		s, err := storage.NewMongoStore(cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, cfg.Storage.MongoCollection, logger)
		if err != nil {
			return nil, fmt.Errorf("open mongodb store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return storage.NewMemoryStore(logger), nil
	}
}

// buildCapture wires fetchers, the selector table, the extractor and the
// normalization pipeline into a capture service.
func buildCapture(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*extractor.Capture, *fetcher.Router, error) {
	table, err := selector.Load(cfg.Extractor.SiteTable)
	if err != nil {
		return nil, nil, err
	}

	fetchers, err := fetcher.New(cfg, metrics, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create fetcher: %w", err)
	}

	ext := extractor.New(table, variant.NewDetector(table, logger), logger)
	capture := extractor.NewCapture(fetchers, ext, logger,
		extractor.WithRenderTimeout(cfg.Extractor.RenderTimeout),
		extractor.WithFetcherType(cfg.Extractor.FetcherType),
		extractor.WithNormalizer(pipeline.Default(logger)),
		extractor.WithRecorder(metrics),
	)
	return capture, fetchers, nil
}
