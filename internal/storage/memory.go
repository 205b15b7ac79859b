package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// MemoryStore keeps everything in process memory. It backs tests and
// single-node deployments that do not need durability.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]*ownerState
	now    func() time.Time
	logger *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		owners: make(map[string]*ownerState),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "memory_storage"),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) owner(id string) *ownerState {
	st, ok := s.owners[id]
	if !ok {
		st = &ownerState{purged: newTombstones(nil)}
		s.owners[id] = st
	}
	return st
}

func (s *MemoryStore) List(_ context.Context, owner string, since *time.Time) ([]types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := filterSince(append([]types.Product(nil), s.owner(owner).active...), since)
	sortProducts(out)
	return out, nil
}

func (s *MemoryStore) Removed(_ context.Context, owner string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	ids := make([]string, 0, len(st.archived)+len(st.purged.ids))
	for _, a := range st.archived {
		ids = append(ids, a.ID)
	}
	for id := range st.purged.ids {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Replace(_ context.Context, owner, deviceID string, products []types.Product) ([]string, error) {
	if err := ValidateProducts(products); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	st.active = planReplace(*st, deviceID, products, s.now())

	ids := make([]string, len(st.active))
	for i, p := range st.active {
		ids[i] = p.ID
	}
	s.logger.Debug("replaced product set", "owner", owner, "count", len(ids))
	return ids, nil
}

func (s *MemoryStore) Merge(_ context.Context, owner, deviceID string, products []types.Product) (MergeResult, error) {
	if err := ValidateProducts(products); err != nil {
		return MergeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	added, skipped := planMerge(*st, deviceID, products, s.now())
	st.active = append(st.active, added...)
	return MergeResult{Added: len(added), Skipped: skipped, Total: len(st.active)}, nil
}

func (s *MemoryStore) Status(_ context.Context, owner string) (types.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	return summarize(st.active, len(st.archived), s.now()), nil
}

func (s *MemoryStore) Archive(_ context.Context, owner, id string) (types.ArchivedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	i := findActive(st.active, id)
	if i < 0 {
		if st.purged.ids[id] {
			return types.ArchivedProduct{}, fmt.Errorf("archive %s: %w", id, types.ErrPurged)
		}
		return types.ArchivedProduct{}, fmt.Errorf("archive %s: %w", id, types.ErrNotFound)
	}

	a := types.ArchivedProduct{Product: st.active[i], ArchivedAt: s.now()}
	st.active = append(st.active[:i:i], st.active[i+1:]...)
	st.archived = append(st.archived, a)
	return a, nil
}

func (s *MemoryStore) ListArchived(_ context.Context, owner string) ([]types.ArchivedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ArchivedProduct(nil), s.owner(owner).archived...), nil
}

func (s *MemoryStore) Restore(_ context.Context, owner, id string) (types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	i := findArchived(st.archived, id)
	if i < 0 {
		if st.purged.ids[id] {
			return types.Product{}, fmt.Errorf("restore %s: %w", id, types.ErrPurged)
		}
		return types.Product{}, fmt.Errorf("restore %s: %w", id, types.ErrNotFound)
	}
	if restoreConflict(st.active, st.archived[i].URL) {
		return types.Product{}, fmt.Errorf("restore %s: %w", id, types.ErrDuplicateURL)
	}

	p := st.archived[i].Product
	st.archived = append(st.archived[:i:i], st.archived[i+1:]...)
	st.active = append(st.active, p)
	return p, nil
}

func (s *MemoryStore) Purge(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.owner(owner)
	if st.purged.ids[id] {
		return fmt.Errorf("purge %s: %w", id, types.ErrPurged)
	}
	i := findArchived(st.archived, id)
	if i < 0 {
		return fmt.Errorf("purge %s: %w", id, types.ErrNotFound)
	}

	st.purged.add(Tombstone{ID: id, URLKey: types.CanonicalURL(st.archived[i].URL), PurgedAt: s.now()})
	st.archived = append(st.archived[:i:i], st.archived[i+1:]...)
	s.logger.Info("product purged", "owner", owner, "id", id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
