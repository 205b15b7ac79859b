package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// BrowserFetcher renders product pages in headless Chromium via Rod.
// Each fetch waits for the load event and then the settle delay so that
// client-side price widgets have painted.
type BrowserFetcher struct {
	browser       *rod.Browser
	stealthCfg    *StealthConfig
	proxyMgr      *ProxyManager
	renderTimeout time.Duration
	settleDelay   time.Duration
	pagePool      chan *rod.Page
	maxPages      int
	logger        *slog.Logger
}

// BrowserOption configures the BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithStealth enables stealth mode with the given configuration.
func WithStealth(cfg *StealthConfig) BrowserOption {
	return func(bf *BrowserFetcher) { bf.stealthCfg = cfg }
}

// WithBrowserProxy routes the browser through a proxy from the manager.
func WithBrowserProxy(pm *ProxyManager) BrowserOption {
	return func(bf *BrowserFetcher) { bf.proxyMgr = pm }
}

// WithMaxPages sets how many idle tabs are kept for reuse.
func WithMaxPages(n int) BrowserOption {
	return func(bf *BrowserFetcher) {
		if n > 0 {
			bf.maxPages = n
		}
	}
}

// NewBrowserFetcher launches Chromium and connects to it.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger, opts ...BrowserOption) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		renderTimeout: cfg.Extractor.RenderTimeout,
		settleDelay:   cfg.Extractor.SettleDelay,
		maxPages:      1,
		logger:        logger.With("component", "browser_fetcher"),
	}
	for _, opt := range opts {
		opt(bf)
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bf.browser = browser
	bf.pagePool = make(chan *rod.Page, bf.maxPages)

	bf.logger.Info("browser fetcher ready",
		"max_pages", bf.maxPages,
		"stealth", bf.stealthCfg != nil,
		"render_timeout", bf.renderTimeout,
		"settle_delay", bf.settleDelay,
	)
	return bf, nil
}

func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bf.proxyMgr != nil {
		if proxyURL := bf.proxyMgr.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	if bf.stealthCfg != nil {
		if bf.stealthCfg.UserDataDir != "" {
			l = l.UserDataDir(bf.stealthCfg.UserDataDir)
		}
		if bf.stealthCfg.WindowSize != "" {
			l = l.Set("window-size", bf.stealthCfg.WindowSize)
		}
	}

	return l.Launch()
}

// Fetch navigates to the request URL and returns the rendered HTML.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Page, error) {
	start := time.Now()

	timeout := bf.renderTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tab, err := bf.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}
	defer bf.putPage(tab)

	page := tab.Context(ctx)

	if ua := req.Headers.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bf.logger.Warn("failed to set user agent", "error", err)
		}
	}

	headers := make([]string, 0, len(req.Headers)*2)
	for k, vals := range req.Headers {
		if k == "User-Agent" {
			continue
		}
		for _, v := range vals {
			headers = append(headers, k, v)
		}
	}
	if len(headers) > 0 {
		cleanup, err := page.SetExtraHeaders(headers)
		if err == nil {
			defer cleanup()
		}
	}

	if err := page.Navigate(req.URLString()); err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: ctx.Err() == nil}
	}
	if err := page.WaitLoad(); err != nil {
		bf.logger.Warn("page load wait failed, continuing", "url", req.URLString(), "error", err)
	}

	// Settle: let client-side rendering finish after the load event.
	select {
	case <-time.After(bf.settleDelay):
	case <-ctx.Done():
		return nil, &types.FetchError{URL: req.URLString(), Err: ctx.Err(), Retryable: false}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: req.URLString(), Err: err, Retryable: true}
	}

	finalURL := req.URLString()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	// Rod does not expose the document status; rendered pages report 200.
	result := types.NewRenderedPage([]byte(html), finalURL, duration)

	bf.logger.Debug("browser fetch complete",
		"url", req.URLString(),
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)
	return result, nil
}

// Close shuts down the browser and releases resources.
func (bf *BrowserFetcher) Close() error {
	close(bf.pagePool)
	for page := range bf.pagePool {
		_ = page.Close()
	}
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return types.FetcherBrowser
}

// getPage takes an idle tab from the pool or opens a new one.
func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	select {
	case page := <-bf.pagePool:
		return page, nil
	default:
	}

	if bf.stealthCfg == nil {
		return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}

	page, err := stealth.Page(bf.browser)
	if err != nil {
		return nil, fmt.Errorf("stealth page: %w", err)
	}
	if _, err := page.EvalOnNewDocument(bf.stealthCfg.StealthJS()); err != nil {
		bf.logger.Warn("stealth script injection failed", "error", err)
	}
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bf.stealthCfg.ViewportWidth,
		Height:            bf.stealthCfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	return page, nil
}

// putPage returns a tab to the pool, closing it if the pool is full.
func (bf *BrowserFetcher) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")

	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
