package fetcher

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/config"
)

// DefaultHealthCheckURL is fetched through each proxy by HealthCheck.
const DefaultHealthCheckURL = "https://httpbin.org/ip"

// ProxyManager handles proxy rotation and health checking.
type ProxyManager struct {
	proxies  []*proxyEntry
	rotation string
	index    atomic.Int64
	mu       sync.RWMutex
	recorder Recorder
	logger   *slog.Logger
}

type proxyEntry struct {
	URL     *url.URL
	Healthy bool
	LastErr error
	LastUse time.Time
}

type proxyKey struct{}

// withProxy pins the proxy a single request goes through.
func withProxy(ctx context.Context, proxy *url.URL) context.Context {
	return context.WithValue(ctx, proxyKey{}, proxy)
}

// NewProxyManager creates a new ProxyManager from configuration.
// recorder may be nil.
func NewProxyManager(cfg *config.ProxyConfig, recorder Recorder, logger *slog.Logger) *ProxyManager {
	pm := &ProxyManager{
		proxies:  make([]*proxyEntry, 0, len(cfg.URLs)),
		rotation: cfg.Rotation,
		recorder: recorder,
		logger:   logger.With("component", "proxy_manager"),
	}

	for _, rawURL := range cfg.URLs {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" {
			pm.logger.Warn("invalid proxy URL", "url", rawURL, "error", err)
			continue
		}
		pm.proxies = append(pm.proxies, &proxyEntry{URL: u, Healthy: true})
	}

	pm.logger.Info("proxy manager initialized", "count", len(pm.proxies), "rotation", cfg.Rotation)
	return pm
}

// ProxyFunc returns an http.Transport proxy function. A proxy pinned on the
// request context wins; otherwise the next one in rotation is used.
func (pm *ProxyManager) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if pinned, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
			return pinned, nil
		}
		return pm.Next(), nil
	}
}

// Next returns the next healthy proxy, or nil for a direct connection.
func (pm *ProxyManager) Next() *url.URL {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	healthy := pm.healthyProxies()
	if len(healthy) == 0 {
		return nil
	}

	var entry *proxyEntry
	switch pm.rotation {
	case "random":
		entry = healthy[rand.Intn(len(healthy))]
	default: // round_robin
		idx := (pm.index.Add(1) - 1) % int64(len(healthy))
		entry = healthy[idx]
	}
	entry.LastUse = time.Now()
	if pm.recorder != nil {
		pm.recorder.RecordProxyRotation()
	}
	return entry.URL
}

// MarkFailed marks a proxy as unhealthy.
func (pm *ProxyManager) MarkFailed(proxyURL *url.URL, err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			if p.Healthy && pm.recorder != nil {
				pm.recorder.RecordProxyError()
			}
			p.Healthy = false
			p.LastErr = err
			pm.logger.Warn("proxy marked unhealthy", "proxy", proxyURL.Host, "error", err)
			return
		}
	}
}

// MarkHealthy marks a proxy as healthy.
func (pm *ProxyManager) MarkHealthy(proxyURL *url.URL) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			p.Healthy = true
			p.LastErr = nil
			return
		}
	}
}

// HealthCheck fetches target through every proxy and updates its status.
// An empty target uses DefaultHealthCheckURL.
func (pm *ProxyManager) HealthCheck(ctx context.Context, target string) {
	if target == "" {
		target = DefaultHealthCheckURL
	}

	pm.mu.RLock()
	urls := make([]*url.URL, 0, len(pm.proxies))
	for _, p := range pm.proxies {
		urls = append(urls, p.URL)
	}
	pm.mu.RUnlock()

	for _, u := range urls {
		client := &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			pm.logger.Error("health check request", "error", err)
			return
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			pm.MarkFailed(u, err)
			continue
		}
		pm.MarkHealthy(u)
	}
}

// Count returns the total number of proxies.
func (pm *ProxyManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.proxies)
}

// HealthyCount returns the number of healthy proxies.
func (pm *ProxyManager) HealthyCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.healthyProxies())
}

func (pm *ProxyManager) healthyProxies() []*proxyEntry {
	healthy := make([]*proxyEntry, 0, len(pm.proxies))
	for _, p := range pm.proxies {
		if p.Healthy {
			healthy = append(healthy, p)
		}
	}
	return healthy
}
