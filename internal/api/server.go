// Package api serves the CartKeeper backend: product extraction and the
// sync protocol devices use to keep their caches consistent.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/IshaanNene/CartKeeper/internal/extractor"
	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/storage"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// maxBodyBytes caps request bodies; a full sync upload is the largest.
const maxBodyBytes = 10 << 20

// Capturer extracts a product draft from a page URL.
type Capturer interface {
	Capture(ctx context.Context, rawURL string) (extractor.CaptureResult, error)
	Fallback(rawURL, reason string) types.Draft
}

// Options configures the server.
type Options struct {
	Port           int
	JWTSecret      string
	AllowedOrigins []string
	Version        string
}

// Server is the backend HTTP API.
type Server struct {
	opts     Options
	store    storage.Store
	capture  Capturer
	metrics  *observability.Metrics
	validate *validator.Validate
	router   chi.Router
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates the API server. capture and metrics may be nil.
func NewServer(opts Options, store storage.Store, capture Capturer, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		opts:     opts,
		store:    store,
		capture:  capture,
		metrics:  metrics,
		validate: newValidator(),
		logger:   logger.With("component", "api_server"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.router = s.routes()
	return s
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/extract-product", s.handleExtract)

		r.Get("/sync", s.handlePull)
		r.Post("/sync", s.handleReplace)
		r.Post("/sync/merge", s.handleMerge)
		r.Get("/sync/status", s.handleStatus)

		r.Get("/archive", s.handleListArchived)
		r.Post("/products/{id}/archive", s.handleArchive)
		r.Post("/archive/{id}/restore", s.handleRestore)
		r.Delete("/archive/{id}", s.handlePurge)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * extractor.DefaultRenderTimeout,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr, "store", s.store.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("API server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// observe logs each request and counts responses by status class.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.RecordResponse(status)
		}
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
