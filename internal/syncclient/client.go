// Package syncclient talks to the CartKeeper backend API on behalf of a
// device. It is the remote store the sync engine pulls from and uploads to.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

const userAgent = "CartKeeper-Sync/1.0"

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// RequestsPerSecond bounds outgoing calls. Zero means 5/s.
	RequestsPerSecond float64
	Burst             int

	Timeout time.Duration
}

// Client is an HTTP client for the sync endpoints.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// New creates a sync client.
func New(opts Options, logger *slog.Logger) *Client {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:      logger.With("component", "sync_client"),
	}
}

// Pull fetches the remote product set, only records modified after since
// when it is non-nil.
func (c *Client) Pull(ctx context.Context, since *time.Time) (*types.PullResponse, error) {
	path := "/sync"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var resp types.PullResponse
	if err := c.do(ctx, "pull", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("pulled products", "count", resp.Count, "filtered", resp.Filtered, "removed", len(resp.RemovedIDs))
	return &resp, nil
}

// Replace uploads products as the complete remote set.
func (c *Client) Replace(ctx context.Context, deviceID string, products []types.Product) (*types.ReplaceResponse, error) {
	var resp types.ReplaceResponse
	body := types.PushRequest{Products: nonNil(products), DeviceID: deviceID}
	if err := c.do(ctx, "replace", http.MethodPost, "/sync", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MergeOnly uploads products, adding only those whose URL the remote does
// not already hold.
func (c *Client) MergeOnly(ctx context.Context, deviceID string, products []types.Product) (*types.MergeResponse, error) {
	var resp types.MergeResponse
	body := types.PushRequest{Products: nonNil(products), DeviceID: deviceID}
	if err := c.do(ctx, "merge", http.MethodPost, "/sync/merge", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the remote summary.
func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.do(ctx, "status", http.MethodGet, "/sync/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Extract asks the backend to capture a product page.
func (c *Client) Extract(ctx context.Context, pageURL string) (*types.Draft, error) {
	var draft types.Draft
	if err := c.do(ctx, "extract", http.MethodPost, "/extract-product", types.ExtractRequest{URL: pageURL}, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// Archive soft-deletes a product on the remote store.
func (c *Client) Archive(ctx context.Context, id string) (*types.ArchivedProduct, error) {
	var resp types.ArchivedProduct
	if err := c.do(ctx, "archive", http.MethodPost, "/products/"+url.PathEscape(id)+"/archive", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListArchived returns the archived products.
func (c *Client) ListArchived(ctx context.Context) ([]types.ArchivedProduct, error) {
	var resp []types.ArchivedProduct
	if err := c.do(ctx, "list_archived", http.MethodGet, "/archive", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Restore moves an archived product back to the active set.
func (c *Client) Restore(ctx context.Context, id string) (*types.Product, error) {
	var resp types.Product
	if err := c.do(ctx, "restore", http.MethodPost, "/archive/"+url.PathEscape(id)+"/restore", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Purge permanently deletes an archived product.
func (c *Client) Purge(ctx context.Context, id string) error {
	return c.do(ctx, "purge", http.MethodDelete, "/archive/"+url.PathEscape(id), nil, nil)
}

// do sends one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request done", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy the sync
// engine and scheduler act on.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body types.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	cause := errors.New(msg)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &types.AuthError{Err: cause}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, types.ErrNotFound)
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s: %w", op, types.ErrPurged)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", op, types.ErrDuplicateURL)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return &types.TransportError{Op: op, StatusCode: resp.StatusCode, Err: cause}
	default:
		index := -1
		if body.Index != nil {
			index = *body.Index
		}
		return &types.ValidationError{Index: index, Field: body.Field, Err: cause}
	}
}

func nonNil(ps []types.Product) []types.Product {
	if ps == nil {
		return []types.Product{}
	}
	return ps
}
