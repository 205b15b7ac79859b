// Package storage holds the server-side product stores. Every backend keeps
// products per owner with three states: active, archived and purged. Purged
// products leave a tombstone so a stale client can never bring them back.
package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/CartKeeper/internal/convert"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Store is the interface for all remote product backends.
type Store interface {
	// List returns the owner's active products, optionally only those
	// modified strictly after since.
	List(ctx context.Context, owner string, since *time.Time) ([]types.Product, error)

	// Removed returns ids of archived and purged products.
	Removed(ctx context.Context, owner string) ([]string, error)

	// Replace makes the owner's active set equal to products and returns
	// the ids that were stored.
	Replace(ctx context.Context, owner, deviceID string, products []types.Product) ([]string, error)

	// Merge adds the products whose URL the owner does not already have.
	Merge(ctx context.Context, owner, deviceID string, products []types.Product) (MergeResult, error)

	// Status summarizes the owner's active products.
	Status(ctx context.Context, owner string) (types.StatusResponse, error)

	Archive(ctx context.Context, owner, id string) (types.ArchivedProduct, error)
	ListArchived(ctx context.Context, owner string) ([]types.ArchivedProduct, error)
	Restore(ctx context.Context, owner, id string) (types.Product, error)

	// Purge permanently deletes an archived product.
	Purge(ctx context.Context, owner, id string) error

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// MergeResult reports the outcome of a merge-only upload.
type MergeResult struct {
	Added   int
	Skipped int
	Total   int
}

// UnknownDevice is the status bucket for products without device attribution.
const UnknownDevice = "unknown"

// Tombstone remembers a purged product.
type Tombstone struct {
	ID       string
	URLKey   string
	PurgedAt time.Time
}

// tombstones indexes an owner's purged products.
type tombstones struct {
	ids  map[string]bool
	urls map[string]time.Time
}

func newTombstones(list []Tombstone) tombstones {
	t := tombstones{ids: make(map[string]bool), urls: make(map[string]time.Time)}
	for _, ts := range list {
		t.add(ts)
	}
	return t
}

func (t tombstones) add(ts Tombstone) {
	t.ids[ts.ID] = true
	if prev, ok := t.urls[ts.URLKey]; !ok || ts.PurgedAt.After(prev) {
		t.urls[ts.URLKey] = ts.PurgedAt
	}
}

// blocks reports whether p is a purged product coming back. A product at a
// purged URL is only blocked if it was added before the purge; re-saving the
// same page later is a new product.
func (t tombstones) blocks(p types.Product) bool {
	if t.ids[p.ID] {
		return true
	}
	purgedAt, ok := t.urls[types.CanonicalURL(p.URL)]
	return ok && !p.DateAdded.After(purgedAt)
}

// ValidateProducts checks that every uploaded product has a url and title.
func ValidateProducts(products []types.Product) error {
	for i, p := range products {
		if strings.TrimSpace(p.URL) == "" {
			return &types.ValidationError{Index: i, Field: "url", Err: errors.New("is required")}
		}
		if strings.TrimSpace(p.Title) == "" {
			return &types.ValidationError{Index: i, Field: "title", Err: errors.New("is required")}
		}
	}
	return nil
}

// stamp fills the fields the server owns when a client left them empty.
// Client ids and timestamps are kept as sent, at millisecond precision so
// every backend round-trips them unchanged.
func stamp(p types.Product, deviceID string, now time.Time) types.Product {
	now = now.Truncate(time.Millisecond)
	p.DateAdded = p.DateAdded.UTC().Truncate(time.Millisecond)
	p.LastModified = p.LastModified.UTC().Truncate(time.Millisecond)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DateAdded.IsZero() {
		p.DateAdded = now
	}
	if p.LastModified.IsZero() {
		p.LastModified = now
	}
	if p.DeviceSource == "" {
		p.DeviceSource = deviceID
	}
	if p.Price == "" {
		p.Price = types.PriceNotAvailable
	}
	if p.Site == "" {
		p.Site = types.HostOf(p.URL)
	}
	p.Category = convert.Slug(p.Category)
	return p
}

// ownerState is what a backend loads before planning a write.
type ownerState struct {
	active   []types.Product
	archived []types.ArchivedProduct
	purged   tombstones
}

func (s ownerState) archivedIDs() map[string]bool {
	ids := make(map[string]bool, len(s.archived))
	for _, a := range s.archived {
		ids[a.ID] = true
	}
	return ids
}

// planReplace returns the new active set for a whole-state replace.
// Archived and purged ids are left alone, and within the upload the first
// product for a URL wins.
func planReplace(state ownerState, deviceID string, upload []types.Product, now time.Time) []types.Product {
	archived := state.archivedIDs()
	seenURL := make(map[string]bool, len(upload))
	seenID := make(map[string]bool, len(upload))

	out := make([]types.Product, 0, len(upload))
	for _, p := range upload {
		p = stamp(p, deviceID, now)
		key := types.CanonicalURL(p.URL)
		if archived[p.ID] || state.purged.blocks(p) || seenURL[key] || seenID[p.ID] {
			continue
		}
		seenURL[key] = true
		seenID[p.ID] = true
		out = append(out, p)
	}
	return out
}

// planMerge returns the products a merge-only upload adds and how many it
// skips. URLs already held by the owner, archived or not, are skipped.
func planMerge(state ownerState, deviceID string, upload []types.Product, now time.Time) (added []types.Product, skipped int) {
	haveURL := make(map[string]bool, len(state.active)+len(state.archived))
	haveID := make(map[string]bool, len(state.active)+len(state.archived))
	for _, p := range state.active {
		haveURL[types.CanonicalURL(p.URL)] = true
		haveID[p.ID] = true
	}
	for _, a := range state.archived {
		haveURL[types.CanonicalURL(a.URL)] = true
		haveID[a.ID] = true
	}

	for _, p := range upload {
		p = stamp(p, deviceID, now)
		key := types.CanonicalURL(p.URL)
		if haveURL[key] || haveID[p.ID] || state.purged.blocks(p) {
			skipped++
			continue
		}
		haveURL[key] = true
		haveID[p.ID] = true
		added = append(added, p)
	}
	return added, skipped
}

// filterSince keeps products modified strictly after since.
func filterSince(products []types.Product, since *time.Time) []types.Product {
	if since == nil {
		return products
	}
	out := make([]types.Product, 0, len(products))
	for _, p := range products {
		if p.LastModified.After(*since) {
			out = append(out, p)
		}
	}
	return out
}

// sortProducts orders products oldest first, then by id.
func sortProducts(products []types.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if !products[i].DateAdded.Equal(products[j].DateAdded) {
			return products[i].DateAdded.Before(products[j].DateAdded)
		}
		return products[i].ID < products[j].ID
	})
}

func summarize(active []types.Product, archivedCount int, now time.Time) types.StatusResponse {
	status := types.StatusResponse{
		TotalProducts: len(active),
		ArchivedCount: archivedCount,
		ServerTime:    now,
	}
	counts := make(map[string]int)
	for _, p := range active {
		counts[p.DeviceSource]++
		if status.NewestUpdate == nil || p.LastModified.After(*status.NewestUpdate) {
			t := p.LastModified
			status.NewestUpdate = &t
		}
	}
	status.DeviceBreakdown = breakdown(counts)
	return status
}

// breakdown turns per-device counts into rows, largest first. Products
// without attribution are reported under UnknownDevice.
func breakdown(counts map[string]int) []types.DeviceCount {
	merged := make(map[string]int, len(counts))
	for device, n := range counts {
		if device == "" {
			device = UnknownDevice
		}
		merged[device] += n
	}

	rows := make([]types.DeviceCount, 0, len(merged))
	for device, n := range merged {
		rows = append(rows, types.DeviceCount{DeviceSource: device, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].DeviceSource < rows[j].DeviceSource
	})
	return rows
}

func findActive(active []types.Product, id string) int {
	for i := range active {
		if active[i].ID == id {
			return i
		}
	}
	return -1
}

func findArchived(archived []types.ArchivedProduct, id string) int {
	for i := range archived {
		if archived[i].ID == id {
			return i
		}
	}
	return -1
}

// restoreConflict reports whether an active product already holds url.
func restoreConflict(active []types.Product, url string) bool {
	key := types.CanonicalURL(url)
	for _, p := range active {
		if types.CanonicalURL(p.URL) == key {
			return true
		}
	}
	return false
}
