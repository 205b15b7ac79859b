package extractor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// DefaultRenderTimeout bounds a single capture, render included.
const DefaultRenderTimeout = 30 * time.Second

// PageFetcher retrieves a page for extraction.
type PageFetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Page, error)
}

// Recorder receives extraction outcomes for metrics.
type Recorder interface {
	RecordExtraction(method string, degraded bool, duration time.Duration)
}

// Normalizer cleans a draft before it is returned to the caller.
type Normalizer interface {
	Normalize(d *types.Draft) error
}

// CaptureResult is the outcome of one capture.
type CaptureResult struct {
	Draft types.Draft

	// Skipped is true when another capture was already running and this
	// call did nothing.
	Skipped bool
}

// Capture fetches a product page and extracts a draft from it. At most one
// capture runs at a time.
type Capture struct {
	fetcher     PageFetcher
	extractor   *Extractor
	normalizer  Normalizer
	recorder    Recorder
	timeout     time.Duration
	fetcherType string
	logger      *slog.Logger

	inFlight atomic.Bool
}

// CaptureOption configures a Capture.
type CaptureOption func(*Capture)

// WithRenderTimeout overrides DefaultRenderTimeout.
func WithRenderTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) CaptureOption {
	return func(c *Capture) { c.recorder = r }
}

// WithNormalizer attaches a draft normalizer run after extraction.
func WithNormalizer(n Normalizer) CaptureOption {
	return func(c *Capture) { c.normalizer = n }
}

// WithFetcherType selects "http" or "browser" on outgoing requests.
func WithFetcherType(t string) CaptureOption {
	return func(c *Capture) { c.fetcherType = t }
}

// NewCapture creates a Capture service.
func NewCapture(fetcher PageFetcher, extractor *Extractor, logger *slog.Logger, opts ...CaptureOption) *Capture {
	c := &Capture{
		fetcher:     fetcher,
		extractor:   extractor,
		timeout:     DefaultRenderTimeout,
		fetcherType: types.FetcherHTTP,
		logger:      logger.With("component", "capture"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InFlight reports whether a capture is running.
func (c *Capture) InFlight() bool {
	return c.inFlight.Load()
}

// Capture fetches rawURL and extracts a draft. Only a malformed URL is an
// error; fetch and extraction failures produce a fallback draft.
func (c *Capture) Capture(ctx context.Context, rawURL string) (CaptureResult, error) {
	req, err := types.NewRequest(rawURL)
	if err != nil {
		return CaptureResult{}, err
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Info("capture skipped, another is in flight", "url", rawURL)
		return CaptureResult{Skipped: true}, nil
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.FetcherType = c.fetcherType
	req.Timeout = c.timeout

	var draft types.Draft
	page, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		c.logger.Warn("fetch failed, using fallback draft", "url", rawURL, "error", err)
		draft = c.extractor.Fallback(rawURL, err.Error())
	} else {
		draft = c.extractor.Extract(rawURL, page)
	}

	if c.normalizer != nil {
		if err := c.normalizer.Normalize(&draft); err != nil {
			c.logger.Warn("draft normalization failed", "url", rawURL, "error", err)
			draft = c.extractor.Fallback(rawURL, err.Error())
		}
	}

	if c.recorder != nil {
		c.recorder.RecordExtraction(draft.ExtractionMethod, draft.Degraded != "", time.Since(start))
	}

	c.logger.Info("captured product",
		"url", rawURL,
		"method", draft.ExtractionMethod,
		"confidence", draft.Confidence,
		"duration", time.Since(start),
	)
	return CaptureResult{Draft: draft}, nil
}

// Fallback returns the degraded draft for rawURL without fetching it.
func (c *Capture) Fallback(rawURL, reason string) types.Draft {
	return c.extractor.Fallback(rawURL, reason)
}
