// Package cartkeeper provides a public SDK for embedding CartKeeper product
// capture as a library.
//
// Example usage:
//
//	c, err := cartkeeper.New(
//	    cartkeeper.WithRenderTimeout(20*time.Second),
//	    cartkeeper.WithBrowser(),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	draft, err := c.Capture(ctx, "https://shop.example.com/p/blue-shirt")
//
// Hosts that already hold the page DOM, such as a browser extension, can
// skip fetching with ExtractHTML.
package cartkeeper

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/extractor"
	"github.com/IshaanNene/CartKeeper/internal/fetcher"
	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/pipeline"
	"github.com/IshaanNene/CartKeeper/internal/selector"
	"github.com/IshaanNene/CartKeeper/internal/types"
	"github.com/IshaanNene/CartKeeper/internal/variant"
)

// Draft is an extracted, normalized product that has not been saved.
type Draft = types.Draft

// Client captures products from shop pages.
type Client struct {
	cfg       *config.Config
	capture   *extractor.Capture
	extractor *extractor.Extractor
	pipeline  *pipeline.Pipeline
	fetchers  *fetcher.Router
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBrowser renders pages in headless Chromium instead of plain HTTP.
func WithBrowser() Option {
	return func(c *Client) { c.cfg.Extractor.FetcherType = types.FetcherBrowser }
}

// WithRenderTimeout bounds one capture, rendering included.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *Client) { c.cfg.Extractor.RenderTimeout = d }
}

// WithSettleDelay sets how long a rendered page may settle after loading.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) { c.cfg.Extractor.SettleDelay = d }
}

// WithSiteTable extends the built-in selector table with a YAML file.
func WithSiteTable(path string) Option {
	return func(c *Client) { c.cfg.Extractor.SiteTable = path }
}

// WithUserAgent sets a custom User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.cfg.Fetcher.UserAgents = []string{ua} }
}

// WithProxies routes fetches through the given proxies in rotation.
func WithProxies(urls ...string) Option {
	return func(c *Client) {
		c.cfg.Proxy.Enabled = len(urls) > 0
		c.cfg.Proxy.URLs = urls
	}
}

// WithLogger sets the logger. The default discards everything below warn.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a capture client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := config.Validate(c.cfg); err != nil {
		return nil, err
	}

	table, err := selector.Load(c.cfg.Extractor.SiteTable)
	if err != nil {
		return nil, err
	}

	c.metrics = observability.NewMetrics(c.logger)
	c.fetchers, err = fetcher.New(c.cfg, c.metrics, c.logger)
	if err != nil {
		return nil, err
	}

	c.extractor = extractor.New(table, variant.NewDetector(table, c.logger), c.logger)
	c.pipeline = pipeline.Default(c.logger)
	c.capture = extractor.NewCapture(c.fetchers, c.extractor, c.logger,
		extractor.WithRenderTimeout(c.cfg.Extractor.RenderTimeout),
		extractor.WithFetcherType(c.cfg.Extractor.FetcherType),
		extractor.WithNormalizer(c.pipeline),
		extractor.WithRecorder(c.metrics),
	)
	return c, nil
}

// Capture fetches pageURL and extracts a draft. Only a malformed URL is an
// error; unreadable pages produce a low-confidence fallback draft, as does
// a call made while another capture on this client is running.
func (c *Client) Capture(ctx context.Context, pageURL string) (Draft, error) {
	res, err := c.capture.Capture(ctx, pageURL)
	if err != nil {
		return Draft{}, err
	}
	if res.Skipped {
		return c.capture.Fallback(pageURL, "another extraction is in progress"), nil
	}
	return res.Draft, nil
}

// ExtractHTML extracts a draft from HTML the caller already has.
func (c *Client) ExtractHTML(pageURL, html string) (Draft, error) {
	if _, err := types.NewRequest(pageURL); err != nil {
		return Draft{}, err
	}
	d := c.extractor.Extract(pageURL, types.NewHTMLPage(pageURL, html))
	if err := c.pipeline.Normalize(&d); err != nil {
		return c.extractor.Fallback(pageURL, err.Error()), nil
	}
	return d, nil
}

// Stats returns the client's counters, e.g. "fetches_total".
func (c *Client) Stats() map[string]int64 {
	return c.metrics.Snapshot()
}

// Close releases fetcher resources, including any browser.
func (c *Client) Close() error {
	return c.fetchers.Close()
}
