package types

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is a fetched product page handed to the extractor.
type Page struct {
	// StatusCode is the HTTP status code (200 for browser renders).
	StatusCode int

	// Headers are the response HTTP headers.
	Headers http.Header

	// Body is the raw HTML.
	Body []byte

	// FinalURL is the URL after any redirects.
	FinalURL string

	// FetchDuration is how long the fetch took.
	FetchDuration time.Duration

	// FetchedAt is when the page was received.
	FetchedAt time.Time

	// Rendered is true when the page came from a headless browser.
	Rendered bool

	doc *goquery.Document
}

// NewPage creates a Page from an http.Response and its decoded body.
func NewPage(httpResp *http.Response, body []byte, duration time.Duration) *Page {
	return &Page{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          body,
		FinalURL:      httpResp.Request.URL.String(),
		FetchDuration: duration,
		FetchedAt:     time.Now(),
	}
}

// NewRenderedPage creates a Page from headless browser output.
func NewRenderedPage(body []byte, finalURL string, duration time.Duration) *Page {
	return &Page{
		StatusCode:    http.StatusOK,
		Headers:       make(http.Header),
		Body:          body,
		FinalURL:      finalURL,
		FetchDuration: duration,
		FetchedAt:     time.Now(),
		Rendered:      true,
	}
}

// NewHTMLPage wraps raw HTML, as captured by a browser extension or a test.
func NewHTMLPage(pageURL, html string) *Page {
	return &Page{
		StatusCode: http.StatusOK,
		Headers:    make(http.Header),
		Body:       []byte(html),
		FinalURL:   pageURL,
		FetchedAt:  time.Now(),
	}
}

// Document returns a parsed goquery document, lazily initializing it.
func (p *Page) Document() (*goquery.Document, error) {
	if p.doc != nil {
		return p.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, err
	}
	if u, err := url.Parse(p.FinalURL); err == nil {
		doc.Url = u
	}
	p.doc = doc
	return doc, nil
}

// IsSuccess returns true if the response status is 2xx.
func (p *Page) IsSuccess() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Host returns the page hostname without a leading "www.".
func (p *Page) Host() string {
	return HostOf(p.FinalURL)
}

// HostOf returns the lowercased hostname of rawURL without a leading "www.".
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
