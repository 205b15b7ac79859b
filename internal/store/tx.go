package store

import (
	"fmt"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/convert"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Tx is a working copy of the cache used by one sync cycle. Nothing it does
// is visible until the transaction commits.
type Tx struct {
	deviceID     string
	lastSync     *time.Time
	products     []types.Product
	deleted      []string
	clearDeleted bool
}

// DeviceID returns the store's device id.
func (tx *Tx) DeviceID() string { return tx.deviceID }

// LastSyncTime returns the last sync time as of the start of the cycle.
func (tx *Tx) LastSyncTime() *time.Time { return tx.lastSync }

// Products returns a copy of the working set.
func (tx *Tx) Products() []types.Product { return cloneProducts(tx.products) }

// Deleted returns the ids removed locally since the last replace-mode sync.
func (tx *Tx) Deleted() []string { return append([]string(nil), tx.deleted...) }

// ClearDeleted records that the remote store no longer holds the deleted
// ids, so they are forgotten on commit.
func (tx *Tx) ClearDeleted() { tx.clearDeleted = true }

// Replace swaps the working set for ps.
func (tx *Tx) Replace(ps []types.Product) {
	out := cloneProducts(ps)
	for i := range out {
		out[i].Category = convert.Slug(out[i].Category)
	}
	tx.products = out
}

// MarkSynced records t as the completion time of this cycle.
func (tx *Tx) MarkSynced(t time.Time) {
	t = t.UTC()
	tx.lastSync = &t
}

// Sync runs fn against a snapshot of the cache while holding the write
// lock and the file lock, so writes from other processes wait for the cycle
// and are never overwritten by it. The snapshot starts from the latest saved
// state. When fn returns nil it is committed and persisted. When fn fails,
// panics, or the write fails, the cache is left exactly as it was.
func (s *Store) Sync(fn func(tx *Tx) error) (err error) {
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

	tx := &Tx{
		deviceID: s.deviceID,
		products: cloneProducts(s.products),
		deleted:  append([]string(nil), s.deleted...),
	}
	if s.lastSync != nil {
		t := *s.lastSync
		tx.lastSync = &t
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync transaction panicked: %v", r)
			s.logger.Error("sync transaction rolled back", "panic", r)
		}
	}()

	if err := fn(tx); err != nil {
		s.logger.Debug("sync transaction rolled back", "error", err)
		return err
	}

	snap := s.snapshot()
	s.products, s.lastSync = tx.products, tx.lastSync
	if tx.clearDeleted {
		s.deleted = nil
	}
	if err := s.save(); err != nil {
		s.restore(snap)
		return err
	}

	s.logger.Debug("sync transaction committed", "products", len(s.products))
	return nil
}
