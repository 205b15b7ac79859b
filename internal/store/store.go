// Package store holds the client-side product cache and sync bookkeeping.
//
// A Store is the single writer for local product state. CRUD calls and sync
// transactions take the same lock, so a sync cycle that is merging cannot be
// interleaved with a user edit. State is persisted as one JSON file written
// atomically (temp file, then rename). Several processes may share the file:
// every write holds an OS lock on a sibling ".lock" file and first loads
// whatever another process saved since.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/CartKeeper/internal/convert"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// fileState is the on-disk layout of the cache.
type fileState struct {
	DeviceID     string          `json:"deviceId"`
	LastSyncTime *time.Time      `json:"lastSyncTime"`
	Products     convert.Grouped `json:"products"`
	DeletedIDs   []string        `json:"deletedIds,omitempty"`
	Revision     int64           `json:"revision"`
	SavedAt      time.Time       `json:"savedAt"`
}

// Store is the local product cache.
type Store struct {
	mu       sync.Mutex
	path     string
	logger   *slog.Logger
	now      func() time.Time
	deviceID string
	lastSync *time.Time
	products []types.Product
	deleted  []string // removed locally, not yet removed remotely
	revision int64    // of the file state last read or written

	hookMu   sync.RWMutex
	onChange []func()
}

// Open loads the cache at path, creating it (and a device id) on first use.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With("component", "local_store"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}

	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := readState(path)
	if err != nil {
		return nil, err
	}
	s.adopt(state)

	if s.deviceID == "" {
		s.deviceID = uuid.NewString()
		s.logger.Info("generated device id", "device_id", s.deviceID)
		if err := s.save(); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("local store opened", "path", path, "products", len(s.products))
	return s, nil
}

// adopt replaces the in-memory state with a state read from disk.
func (s *Store) adopt(state fileState) {
	s.deviceID = state.DeviceID
	s.lastSync = state.LastSyncTime
	s.products = convert.Flatten(state.Products)
	s.deleted = state.DeletedIDs
	s.revision = state.Revision
}

// reload picks up a state saved by another process since this store last
// read or wrote the file. Callers hold mu.
func (s *Store) reload() (bool, error) {
	state, err := readState(s.path)
	if err != nil {
		return false, err
	}
	if state.DeviceID == "" || state.Revision == s.revision {
		return false, nil
	}
	s.logger.Debug("loaded external changes", "revision", state.Revision, "previous", s.revision)
	s.adopt(state)
	return true, nil
}

// Refresh loads changes another process saved to the cache file and
// reports whether there were any.
func (s *Store) Refresh() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

func (s *Store) lockPath() string { return s.path + ".lock" }

// snapshot is the mutable part of the store, kept for rollback.
type snapshot struct {
	products []types.Product
	deleted  []string
	lastSync *time.Time
}

func (s *Store) snapshot() snapshot {
	return snapshot{products: s.products, deleted: s.deleted, lastSync: s.lastSync}
}

func (s *Store) restore(snap snapshot) {
	s.products, s.deleted, s.lastSync = snap.products, snap.deleted, snap.lastSync
}

// mutate runs fn with both locks held, on top of the latest saved state,
// and persists the result. fn must replace slices rather than edit them in
// place. On any error the store is left as it was.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.reload(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(); err != nil {
		s.restore(snap)
		return err
	}
	if err := s.save(); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func readState(path string) (fileState, error) {
	var state fileState

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("open local store: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return state, fmt.Errorf("decode local store %s: %w", path, err)
	}
	return state, nil
}

// save writes the current state. Callers hold mu.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	state := fileState{
		DeviceID:     s.deviceID,
		LastSyncTime: s.lastSync,
		Products:     convert.Group(s.products),
		DeletedIDs:   s.deleted,
		Revision:     s.revision + 1,
		SavedAt:      s.now(),
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode local store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync local store: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename local store: %w", err)
	}
	s.revision = state.Revision
	return nil
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// DeviceID returns the identifier generated for this installation.
func (s *Store) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// LastSyncTime returns when the last full sync cycle finished, or nil.
func (s *Store) LastSyncTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return nil
	}
	t := *s.lastSync
	return &t
}

// Products returns a copy of the cached products in stored order.
func (s *Store) Products() []types.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProducts(s.products)
}

// Grouped returns the cache keyed by category label.
func (s *Store) Grouped() convert.Grouped {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convert.Group(s.products)
}

// Get returns the product with the given id.
func (s *Store) Get(id string) (types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.products[i], nil
	}
	return types.Product{}, fmt.Errorf("get %s: %w", id, types.ErrNotFound)
}

// Deleted returns the ids removed locally whose removal has not yet reached
// the remote store.
func (s *Store) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// OnChange registers fn to run after every successful user mutation,
// including those another process saves while Watch is running. Sync
// transactions do not fire it.
func (s *Store) OnChange(fn func()) {
	s.hookMu.Lock()
	s.onChange = append(s.onChange, fn)
	s.hookMu.Unlock()
}

func (s *Store) changed() {
	s.hookMu.RLock()
	hooks := append([]func(){}, s.onChange...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// Add saves a new product. It gets a fresh id when it has none, and the
// store's timestamps and device attribution. URLs are unique after
// canonicalization.
func (s *Store) Add(p types.Product) (types.Product, error) {
	if p.URL == "" {
		return types.Product{}, &types.ValidationError{Index: -1, Field: "url", Err: errors.New("is required")}
	}
	if p.Title == "" {
		return types.Product{}, &types.ValidationError{Index: -1, Field: "title", Err: errors.New("is required")}
	}

	err := s.mutate(func() error {
		key := types.CanonicalURL(p.URL)
		for _, existing := range s.products {
			if types.CanonicalURL(existing.URL) == key {
				return fmt.Errorf("add %s: %w", p.URL, types.ErrDuplicateURL)
			}
		}

		now := s.now()
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Price == "" {
			p.Price = types.PriceNotAvailable
		}
		if p.Site == "" {
			p.Site = types.HostOf(p.URL)
		}
		p.Category = convert.Slug(p.Category)
		p.DateAdded = now
		p.Touch(s.deviceID, now)

		s.products = append(cloneProducts(s.products), p)
		s.deleted = removeID(s.deleted, p.ID)
		return nil
	})
	if err != nil {
		return types.Product{}, err
	}

	s.logger.Info("product added", "id", p.ID, "url", p.URL, "category", p.Category)
	s.changed()
	return p, nil
}

// Update applies fn to the product with the given id and bumps its
// lastModified. The id and dateAdded cannot be changed.
func (s *Store) Update(id string, fn func(*types.Product)) (types.Product, error) {
	var p types.Product
	err := s.mutate(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return fmt.Errorf("update %s: %w", id, types.ErrNotFound)
		}

		p = s.products[i]
		fn(&p)
		p.ID = s.products[i].ID
		p.DateAdded = s.products[i].DateAdded
		p.Category = convert.Slug(p.Category)
		p.Touch(s.deviceID, s.now())

		s.products = cloneProducts(s.products)
		s.products[i] = p
		return nil
	})
	if err != nil {
		return types.Product{}, err
	}

	s.changed()
	return p, nil
}

// SetCategory moves a product to another category.
func (s *Store) SetCategory(id, category string) (types.Product, error) {
	return s.Update(id, func(p *types.Product) { p.Category = category })
}

// Delete removes a product from the cache and remembers the id, so the
// next replace-mode sync removes it remotely instead of pulling it back.
func (s *Store) Delete(id string) error {
	err := s.mutate(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return fmt.Errorf("delete %s: %w", id, types.ErrNotFound)
		}

		next := make([]types.Product, 0, len(s.products)-1)
		next = append(next, s.products[:i]...)
		next = append(next, s.products[i+1:]...)
		s.products = next
		if !containsID(s.deleted, id) {
			s.deleted = append(append([]string(nil), s.deleted...), id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("product deleted", "id", id)
	s.changed()
	return nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.products {
		if s.products[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneProducts(ps []types.Product) []types.Product {
	if ps == nil {
		return nil
	}
	out := make([]types.Product, len(ps))
	copy(out, ps)
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// removeID returns ids without id, copying only when id is present.
func removeID(ids []string, id string) []string {
	if !containsID(ids, id) {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
