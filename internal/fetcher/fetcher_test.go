package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/CartKeeper/internal/config"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type countingRecorder struct {
	fetches, failed, bytes int
	rotations, proxyErrors int
}

func (r *countingRecorder) RecordFetch(n int, err error) {
	r.fetches++
	if err != nil {
		r.failed++
		return
	}
	r.bytes += n
}
func (r *countingRecorder) RecordProxyRotation() { r.rotations++ }
func (r *countingRecorder) RecordProxyError()    { r.proxyErrors++ }

func newTestFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fetcher.Stealth = false
	f, err := NewHTTPFetcher(cfg, nil, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func mustRequest(t *testing.T, rawURL string) *types.Request {
	t.Helper()
	req, err := types.NewRequest(rawURL)
	require.NoError(t, err)
	return req
}

func TestHTTPFetchDecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(`<html><h1>Lamp</h1></html>`))
		_ = bw.Close()
	}))
	defer srv.Close()

	page, err := newTestFetcher(t).Fetch(context.Background(), mustRequest(t, srv.URL+"/lamp"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, `<html><h1>Lamp</h1></html>`, string(page.Body))
	assert.Equal(t, srv.URL+"/lamp", page.FinalURL)
	assert.False(t, page.Rendered)
}

func TestHTTPFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/product/42", http.StatusFound)
	})
	mux.HandleFunc("/product/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := newTestFetcher(t).Fetch(context.Background(), mustRequest(t, srv.URL+"/short"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/product/42", page.FinalURL)
}

func TestHTTPFetchStatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		wantErr   bool
		retryable bool
		retryIn   time.Duration
	}{
		{name: "not found is a page", status: http.StatusNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, wantErr: true, retryable: true, retryIn: 7 * time.Second},
		{name: "server error", status: http.StatusBadGateway, wantErr: true, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("<html>oops</html>"))
			}))
			defer srv.Close()

			page, err := newTestFetcher(t).Fetch(context.Background(), mustRequest(t, srv.URL))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.status, page.StatusCode)
				return
			}
			var fe *types.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.retryable, fe.Retryable)
			assert.Equal(t, tt.retryIn, fe.RetryAfter)
		})
	}
}

func TestHTTPFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), mustRequest(t, srv.URL))
	assert.ErrorIs(t, err, types.ErrEmptyResponse)
}

func TestHTTPFetchRotatesUserAgents(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.UserAgent())
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Fetcher.UserAgents = []string{"ua-a", "ua-b"}
	f, err := NewHTTPFetcher(cfg, nil, testLogger)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), mustRequest(t, srv.URL))
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"ua-a", "ua-b"}, seen)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter(""))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, 2*time.Minute, parseRetryAfter("900"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("soon"))
}

type stubFetcher struct {
	kind string
	body string
	err  error
}

func (s *stubFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return types.NewHTMLPage(req.URLString(), s.body), nil
}
func (s *stubFetcher) Close() error { return nil }
func (s *stubFetcher) Type() string { return s.kind }

func TestRouterDispatchesByType(t *testing.T) {
	rec := &countingRecorder{}
	r := NewRouter(&stubFetcher{kind: "http", body: "plain"}, &stubFetcher{kind: "browser", body: "rendered!"}, rec, testLogger)

	req := mustRequest(t, "https://shop.test/p/1")
	page, err := r.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(page.Body))

	req.FetcherType = types.FetcherBrowser
	page, err = r.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "rendered!", string(page.Body))

	assert.Equal(t, 2, rec.fetches)
	assert.Equal(t, len("plain")+len("rendered!"), rec.bytes)
}

func TestRouterRecordsFailures(t *testing.T) {
	rec := &countingRecorder{}
	boom := errors.New("boom")
	r := NewRouter(&stubFetcher{kind: "http", err: boom}, nil, rec, testLogger)

	req := mustRequest(t, "https://shop.test/p/1")
	_, err := r.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	req.FetcherType = types.FetcherBrowser
	_, err = r.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrNoFetcher)

	req.FetcherType = "carrier-pigeon"
	_, err = r.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrNoFetcher)

	assert.Equal(t, 3, rec.failed)
}

func TestProxyRotation(t *testing.T) {
	rec := &countingRecorder{}
	pm := NewProxyManager(&config.ProxyConfig{
		Rotation: "round_robin",
		URLs:     []string{"http://p1:8080", "http://p2:8080", "::bad::"},
	}, rec, testLogger)
	require.Equal(t, 2, pm.Count())

	assert.Equal(t, "p1:8080", pm.Next().Host)
	assert.Equal(t, "p2:8080", pm.Next().Host)
	assert.Equal(t, "p1:8080", pm.Next().Host)
	assert.Equal(t, 3, rec.rotations)

	p2, _ := url.Parse("http://p2:8080")
	pm.MarkFailed(p2, errors.New("refused"))
	pm.MarkFailed(p2, errors.New("refused again"))
	assert.Equal(t, 1, pm.HealthyCount())
	assert.Equal(t, 1, rec.proxyErrors)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "p1:8080", pm.Next().Host)
	}

	pm.MarkHealthy(p2)
	assert.Equal(t, 2, pm.HealthyCount())
}

func TestProxyHealthCheck(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"origin":"127.0.0.1"}`))
	}))
	defer proxy.Close()

	pm := NewProxyManager(&config.ProxyConfig{URLs: []string{proxy.URL, "http://127.0.0.1:1"}}, nil, testLogger)
	pm.HealthCheck(context.Background(), "http://upstream.test/ip")
	assert.Equal(t, 1, pm.HealthyCount())
}

func TestFetchPinsProxyPerRequest(t *testing.T) {
	var hits int
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "shop.test", r.URL.Hostname())
		_, _ = w.Write([]byte("<html>via proxy</html>"))
	}))
	defer proxy.Close()

	cfg := config.DefaultConfig()
	cfg.Proxy = config.ProxyConfig{Enabled: true, Rotation: "round_robin", URLs: []string{proxy.URL}, RotateOnFail: true}
	rec := &countingRecorder{}
	r, err := New(cfg, rec, testLogger)
	require.NoError(t, err)
	defer r.Close()

	page, err := r.Fetch(context.Background(), mustRequest(t, "http://shop.test/p/1"))
	require.NoError(t, err)
	assert.Equal(t, "<html>via proxy</html>", string(page.Body))
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, rec.rotations)
}
