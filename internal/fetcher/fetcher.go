package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Fetcher is the interface for all page fetcher implementations.
type Fetcher interface {
	// Fetch retrieves the page at the given request's URL.
	Fetch(ctx context.Context, req *types.Request) (*types.Page, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// Recorder receives fetch outcomes and proxy events for metrics.
type Recorder interface {
	RecordFetch(bytes int, err error)
	RecordProxyRotation()
	RecordProxyError()
}

// Router dispatches each request to the fetcher named by its FetcherType.
// The browser fetcher is launched on first use.
type Router struct {
	http       Fetcher
	newBrowser func() (Fetcher, error)
	proxies    *ProxyManager
	recorder   Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	browser Fetcher
}

// New builds the fetcher router from configuration. recorder may be nil.
func New(cfg *config.Config, recorder Recorder, logger *slog.Logger) (*Router, error) {
	var proxies *ProxyManager
	if cfg.Proxy.Enabled && len(cfg.Proxy.URLs) > 0 {
		proxies = NewProxyManager(&cfg.Proxy, recorder, logger)
	}

	httpFetcher, err := NewHTTPFetcher(cfg, proxies, logger)
	if err != nil {
		return nil, err
	}

	return &Router{
		http: httpFetcher,
		newBrowser: func() (Fetcher, error) {
			opts := []BrowserOption{WithMaxPages(cfg.Fetcher.BrowserPages)}
			if cfg.Fetcher.Stealth {
				opts = append(opts, WithStealth(DefaultStealthConfig()))
			}
			if proxies != nil {
				opts = append(opts, WithBrowserProxy(proxies))
			}
			return NewBrowserFetcher(cfg, logger, opts...)
		},
		proxies:  proxies,
		recorder: recorder,
		logger:   logger.With("component", "fetcher"),
	}, nil
}

// NewRouter wraps ready-made fetchers. browser may be nil.
func NewRouter(httpFetcher, browser Fetcher, recorder Recorder, logger *slog.Logger) *Router {
	return &Router{
		http:     httpFetcher,
		browser:  browser,
		recorder: recorder,
		logger:   logger.With("component", "fetcher"),
	}
}

// CheckProxies health-checks every configured proxy. It is a no-op without proxies.
func (r *Router) CheckProxies(ctx context.Context) {
	if r.proxies == nil {
		return
	}
	r.proxies.HealthCheck(ctx, "")
	r.logger.Info("proxy health check done", "healthy", r.proxies.HealthyCount(), "total", r.proxies.Count())
}

// Fetch routes req and records the outcome.
func (r *Router) Fetch(ctx context.Context, req *types.Request) (*types.Page, error) {
	f, err := r.route(req.FetcherType)
	if err != nil {
		if r.recorder != nil {
			r.recorder.RecordFetch(0, err)
		}
		return nil, err
	}

	page, err := f.Fetch(ctx, req)
	if r.recorder != nil {
		size := 0
		if page != nil {
			size = len(page.Body)
		}
		r.recorder.RecordFetch(size, err)
	}
	return page, err
}

func (r *Router) route(fetcherType string) (Fetcher, error) {
	switch fetcherType {
	case "", types.FetcherHTTP:
		if r.http == nil {
			return nil, types.ErrNoFetcher
		}
		return r.http, nil
	case types.FetcherBrowser:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.browser != nil {
			return r.browser, nil
		}
		if r.newBrowser == nil {
			return nil, types.ErrNoFetcher
		}
		b, err := r.newBrowser()
		if err != nil {
			r.logger.Error("browser fetcher unavailable", "error", err)
			return nil, &types.FetchError{Err: fmt.Errorf("%w: %v", types.ErrNoFetcher, err)}
		}
		r.browser = b
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown fetcher type %q", types.ErrNoFetcher, fetcherType)
	}
}

// Close closes every fetcher the router started.
func (r *Router) Close() error {
	var firstErr error
	if r.http != nil {
		firstErr = r.http.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		if err := r.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.browser = nil
	}
	return firstErr
}
