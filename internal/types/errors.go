package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound       = errors.New("product not found")
	ErrDuplicateURL   = errors.New("product with this URL already exists")
	ErrPurged         = errors.New("product was permanently deleted")
	ErrSyncInFlight   = errors.New("sync already in progress")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrEmptyResponse  = errors.New("empty response body")
	ErrBotWall        = errors.New("page is a bot challenge")
	ErrNoFetcher      = errors.New("no fetcher available for request")
	ErrProxyExhausted = errors.New("all proxies exhausted")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ValidationError rejects a product at the sync boundary. It is never retried.
type ValidationError struct {
	Index int // position in the uploaded batch, -1 when not part of a batch
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid product at index %d (field %q): %v", e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid product (field %q): %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError is a network or server-side failure talking to the remote
// store. The scheduler retries these with backoff.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the remote store rejected the credentials (HTTP 401).
// It surfaces to the caller and is not retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication expired: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur in a storage backend.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s %s): %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying on the next scheduled
// attempt. Validation and auth failures are permanent.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return true
}
