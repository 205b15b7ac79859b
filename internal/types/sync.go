package types

import "time"

// SyncState is the per-device bookkeeping persisted next to the local cache.
type SyncState struct {
	DeviceID     string     `json:"deviceId"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
}

// PullResponse is the body of GET /sync.
type PullResponse struct {
	Products  []Product `json:"products"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Filtered  bool      `json:"filtered"`
	UserID    string    `json:"userId"`

	// RemovedIDs lists archived and permanently deleted ids so clients can
	// drop stale local copies instead of re-uploading them.
	RemovedIDs []string `json:"removedIds,omitempty"`
}

// PushRequest is the body of POST /sync and POST /sync/merge.
type PushRequest struct {
	Products []Product `json:"products" validate:"dive"`
	DeviceID string    `json:"deviceId"`
}

// ReplaceResponse is the body returned by POST /sync.
type ReplaceResponse struct {
	Success    bool      `json:"success"`
	Synced     int       `json:"synced"`
	ProductIDs []string  `json:"productIds"`
	Timestamp  time.Time `json:"timestamp"`
}

// MergeResponse is the body returned by POST /sync/merge.
type MergeResponse struct {
	Success bool `json:"success"`
	Added   int  `json:"added"`
	Skipped int  `json:"skipped"`
	Total   int  `json:"total"`
}

// DeviceCount is one row of the per-device product breakdown.
type DeviceCount struct {
	DeviceSource string `json:"deviceSource"`
	Count        int    `json:"count"`
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	TotalProducts   int           `json:"totalProducts"`
	ArchivedCount   int           `json:"archivedCount"`
	DeviceBreakdown []DeviceCount `json:"deviceBreakdown"`
	NewestUpdate    *time.Time    `json:"newestUpdate"`
	ServerTime      time.Time     `json:"serverTime"`
}

// ExtractRequest is the body of POST /extract-product.
type ExtractRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// ArchivedProduct is a soft-deleted product with the time it was archived.
type ArchivedProduct struct {
	Product
	ArchivedAt time.Time `json:"archivedAt" bson:"archived_at"`
}
