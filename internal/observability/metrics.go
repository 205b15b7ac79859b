package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// extractionMethods is the fixed label set for extraction counters.
var extractionMethods = []string{
	types.MethodSiteSelector,
	types.MethodPlatformSelector,
	types.MethodGenericSelector,
	types.MethodJSONLD,
	types.MethodMetaTags,
	types.MethodTextScan,
	types.MethodFallback,
}

// Sync cycle outcomes.
const (
	SyncOK      = "ok"
	SyncFailed  = "failed"
	SyncSkipped = "skipped"
)

// Metrics tracks operational metrics for extraction, sync and the API.
type Metrics struct {
	// Extraction metrics
	extractions         map[string]*atomic.Int64
	ExtractionsDegraded atomic.Int64
	ExtractionMillis    atomic.Int64

	// Fetch metrics
	FetchesTotal    atomic.Int64
	FetchesFailed   atomic.Int64
	BytesDownloaded atomic.Int64

	// Sync metrics
	SyncOK       atomic.Int64
	SyncFailed   atomic.Int64
	SyncSkipped  atomic.Int64
	SyncMillis   atomic.Int64
	ProductsSent atomic.Int64
	ProductsRecv atomic.Int64

	// API metrics
	RequestsTotal  atomic.Int64
	Responses2xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64
	ProductsStored atomic.Int64

	// Proxy metrics
	ProxyRotations atomic.Int64
	ProxyErrors    atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		extractions: make(map[string]*atomic.Int64, len(extractionMethods)),
		logger:      logger.With("component", "metrics"),
	}
	for _, method := range extractionMethods {
		m.extractions[method] = new(atomic.Int64)
	}
	return m
}

// RecordExtraction counts one extraction by the method that produced its price.
func (m *Metrics) RecordExtraction(method string, degraded bool, d time.Duration) {
	c, ok := m.extractions[method]
	if !ok {
		c = m.extractions[types.MethodFallback]
	}
	c.Add(1)
	if degraded {
		m.ExtractionsDegraded.Add(1)
	}
	m.ExtractionMillis.Add(d.Milliseconds())
}

// Extractions returns the count for one method.
func (m *Metrics) Extractions(method string) int64 {
	if c, ok := m.extractions[method]; ok {
		return c.Load()
	}
	return 0
}

// RecordSync counts one sync cycle.
func (m *Metrics) RecordSync(outcome string, sent, received int, d time.Duration) {
	switch outcome {
	case SyncOK:
		m.SyncOK.Add(1)
	case SyncSkipped:
		m.SyncSkipped.Add(1)
		return
	default:
		m.SyncFailed.Add(1)
	}
	m.ProductsSent.Add(int64(sent))
	m.ProductsRecv.Add(int64(received))
	m.SyncMillis.Add(d.Milliseconds())
}

// RecordFetch counts one page fetch.
func (m *Metrics) RecordFetch(bytes int, err error) {
	m.FetchesTotal.Add(1)
	if err != nil {
		m.FetchesFailed.Add(1)
		return
	}
	m.BytesDownloaded.Add(int64(bytes))
}

// RecordProxyRotation counts one proxy handed out by the rotation.
func (m *Metrics) RecordProxyRotation() { m.ProxyRotations.Add(1) }

// RecordProxyError counts one proxy marked unhealthy.
func (m *Metrics) RecordProxyError() { m.ProxyErrors.Add(1) }

// RecordResponse counts one API response by status class.
func (m *Metrics) RecordResponse(status int) {
	m.RequestsTotal.Add(1)
	switch {
	case status >= 500:
		m.Responses5xx.Add(1)
	case status >= 400:
		m.Responses4xx.Add(1)
	case status >= 200 && status < 300:
		m.Responses2xx.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP cartkeeper_extractions_total Extractions by price method\n")
	fmt.Fprintf(w, "# TYPE cartkeeper_extractions_total counter\n")
	for _, method := range extractionMethods {
		fmt.Fprintf(w, "cartkeeper_extractions_total{method=%q} %d\n", method, m.extractions[method].Load())
	}

	fmt.Fprintf(w, "# HELP cartkeeper_sync_cycles_total Sync cycles by outcome\n")
	fmt.Fprintf(w, "# TYPE cartkeeper_sync_cycles_total counter\n")
	fmt.Fprintf(w, "cartkeeper_sync_cycles_total{outcome=%q} %d\n", SyncOK, m.SyncOK.Load())
	fmt.Fprintf(w, "cartkeeper_sync_cycles_total{outcome=%q} %d\n", SyncFailed, m.SyncFailed.Load())
	fmt.Fprintf(w, "cartkeeper_sync_cycles_total{outcome=%q} %d\n", SyncSkipped, m.SyncSkipped.Load())

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"cartkeeper_extractions_degraded_total", "Extractions that fell back", m.ExtractionsDegraded.Load()},
		{"cartkeeper_extraction_milliseconds_total", "Time spent extracting", m.ExtractionMillis.Load()},
		{"cartkeeper_fetches_total", "Pages fetched", m.FetchesTotal.Load()},
		{"cartkeeper_fetches_failed_total", "Page fetches that failed", m.FetchesFailed.Load()},
		{"cartkeeper_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
		{"cartkeeper_sync_milliseconds_total", "Time spent syncing", m.SyncMillis.Load()},
		{"cartkeeper_sync_products_sent_total", "Products uploaded by sync", m.ProductsSent.Load()},
		{"cartkeeper_sync_products_received_total", "Products downloaded by sync", m.ProductsRecv.Load()},
		{"cartkeeper_requests_total", "API requests served", m.RequestsTotal.Load()},
		{"cartkeeper_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"cartkeeper_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"cartkeeper_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"cartkeeper_products_stored_total", "Products written by sync uploads", m.ProductsStored.Load()},
		{"cartkeeper_proxy_rotations_total", "Total proxy rotations", m.ProxyRotations.Load()},
		{"cartkeeper_proxy_errors_total", "Total proxy errors", m.ProxyErrors.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts a standalone metrics HTTP server. The API server
// mounts the handler itself; this is for the sync agent.
func (m *Metrics) StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return srv
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	snap := map[string]int64{
		"extractions_degraded": m.ExtractionsDegraded.Load(),
		"fetches_total":        m.FetchesTotal.Load(),
		"fetches_failed":       m.FetchesFailed.Load(),
		"bytes_downloaded":     m.BytesDownloaded.Load(),
		"sync_ok":              m.SyncOK.Load(),
		"sync_failed":          m.SyncFailed.Load(),
		"sync_skipped":         m.SyncSkipped.Load(),
		"requests_total":       m.RequestsTotal.Load(),
		"responses_2xx":        m.Responses2xx.Load(),
		"responses_4xx":        m.Responses4xx.Load(),
		"responses_5xx":        m.Responses5xx.Load(),
		"products_stored":      m.ProductsStored.Load(),
	}
	for _, method := range extractionMethods {
		snap["extractions_"+method] = m.extractions[method].Load()
	}
	return snap
}
