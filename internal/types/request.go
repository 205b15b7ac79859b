package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Fetcher types.
const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// Request describes a product page to fetch.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// MaxRetries is the maximum number of retries for this request.
	MaxRetries int

	// Timeout overrides the fetcher timeout for this request.
	Timeout time.Duration

	// FetcherType specifies which fetcher to use: "http" or "browser".
	FetcherType string
}

// NewRequest creates a new Request with sensible defaults. Only absolute
// http(s) URLs are accepted.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: must be an absolute http(s) URL", ErrInvalidURL, rawURL)
	}

	return &Request{
		URL:         u,
		Headers:     make(http.Header),
		MaxRetries:  2,
		FetcherType: FetcherHTTP,
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}
