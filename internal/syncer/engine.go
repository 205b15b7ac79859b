// Package syncer keeps the local product cache consistent with the remote
// store. Engine runs one sync cycle at a time; Scheduler decides when.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/observability"
	"github.com/IshaanNene/CartKeeper/internal/storage"
	"github.com/IshaanNene/CartKeeper/internal/store"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Strategy selects the upload contract for a sync cycle.
type Strategy string

const (
	// StrategyReplace makes the remote set equal the uploaded set.
	StrategyReplace Strategy = "replace"
	// StrategyMergeOnly adds only products whose URL the remote lacks.
	StrategyMergeOnly Strategy = "merge"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyReplace, StrategyMergeOnly:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown sync strategy %q (want replace or merge)", s)
}

// State is the engine's position in a sync cycle.
type State int32

const (
	StateIdle State = iota
	StateDownloading
	StateMerging
	StateUploading
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateMerging:
		return "merging"
	case StateUploading:
		return "uploading"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Remote is the authoritative store as seen by a device.
type Remote interface {
	Pull(ctx context.Context, since *time.Time) (*types.PullResponse, error)
	Replace(ctx context.Context, deviceID string, products []types.Product) (*types.ReplaceResponse, error)
	MergeOnly(ctx context.Context, deviceID string, products []types.Product) (*types.MergeResponse, error)
}

// Recorder receives sync cycle outcomes.
type Recorder interface {
	RecordSync(outcome string, sent, received int, d time.Duration)
}

// Result summarizes one sync cycle.
type Result struct {
	Skipped  bool
	Strategy Strategy
	Received int // products downloaded
	Sent     int // products uploaded
	Local    int // products in the cache afterwards
	Removed  int // local copies dropped because the remote archived or purged them
	Duration time.Duration
}

// Engine drives sync cycles between a local store and a remote.
type Engine struct {
	store    *store.Store
	remote   Remote
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	state   atomic.Int32
}

// NewEngine creates a sync engine. recorder may be nil.
func NewEngine(local *store.Store, remote Remote, recorder Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		store:    local,
		remote:   remote,
		recorder: recorder,
		logger:   logger.With("component", "sync_engine"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// State returns the current cycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.logger.Debug("sync state", "from", prev, "to", s)
	}
}

// Sync runs one cycle: download the remote set, merge it into the cache,
// upload the merged set with the given strategy, then download again to
// settle on what the remote accepted. A call made while another cycle is
// running returns a skipped result. On any error the cache is left as it
// was before the cycle.
func (e *Engine) Sync(ctx context.Context, strategy Strategy) (Result, error) {
	return e.guarded(strategy, func(tx *store.Tx, res *Result) error {
		return e.cycle(ctx, strategy, tx, res)
	})
}

// Push uploads the cache as the complete remote set without merging, so
// the remote ends up holding exactly the local products.
//
// Sync in replace mode also propagates local deletions; Push additionally
// discards edits other devices made since the last sync.
func (e *Engine) Push(ctx context.Context) (Result, error) {
	return e.guarded(StrategyReplace, func(tx *store.Tx, res *Result) error {
		products := tx.Products()
		if err := storage.ValidateProducts(products); err != nil {
			return err
		}

		e.setState(StateUploading)
		if _, err := e.remote.Replace(ctx, tx.DeviceID(), products); err != nil {
			return err
		}
		tx.ClearDeleted()
		res.Sent = len(products)
		res.Local = len(products)
		e.markSynced(tx, time.Time{})
		return nil
	})
}

func (e *Engine) guarded(strategy Strategy, fn func(tx *store.Tx, res *Result) error) (Result, error) {
	res := Result{Strategy: strategy}
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("sync already in flight, skipping")
		res.Skipped = true
		e.record(observability.SyncSkipped, res)
		return res, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	err := e.store.Sync(func(tx *store.Tx) error {
		return fn(tx, &res)
	})
	res.Duration = time.Since(start)

	if err != nil {
		e.setState(StateFailed)
		e.logger.Warn("sync failed, local cache unchanged", "strategy", strategy, "error", err)
		e.record(observability.SyncFailed, res)
		e.setState(StateIdle)
		return res, err
	}

	e.setState(StateIdle)
	e.logger.Info("sync complete",
		"strategy", strategy,
		"received", res.Received,
		"sent", res.Sent,
		"local", res.Local,
		"removed", res.Removed,
		"duration", res.Duration,
	)
	e.record(observability.SyncOK, res)
	return res, nil
}

func (e *Engine) cycle(ctx context.Context, strategy Strategy, tx *store.Tx, res *Result) error {
	e.setState(StateDownloading)
	pulled, err := e.remote.Pull(ctx, nil)
	if err != nil {
		return err
	}
	res.Received = len(pulled.Products)

	// Products deleted on this device stay deleted: the remote copies are
	// ignored, and a replace upload then removes them remotely.
	deleted := tx.Deleted()

	e.setState(StateMerging)
	local := tx.Products()
	kept := without(local, pulled.RemovedIDs)
	res.Removed = len(local) - len(kept)
	merged := Merge(kept, without(pulled.Products, deleted))

	if err := storage.ValidateProducts(merged); err != nil {
		return err
	}

	e.setState(StateUploading)
	switch strategy {
	case StrategyReplace:
		if _, err := e.remote.Replace(ctx, tx.DeviceID(), merged); err != nil {
			return err
		}
	case StrategyMergeOnly:
		if _, err := e.remote.MergeOnly(ctx, tx.DeviceID(), merged); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown sync strategy %q", strategy)
	}
	res.Sent = len(merged)

	e.setState(StateDownloading)
	final, err := e.remote.Pull(ctx, nil)
	if err != nil {
		return err
	}

	e.setState(StateMerging)
	settled := reconcile(without(merged, final.RemovedIDs), without(final.Products, deleted))
	if strategy == StrategyReplace {
		tx.ClearDeleted()
	}
	tx.Replace(settled)
	res.Local = len(settled)
	e.markSynced(tx, final.Timestamp)
	return nil
}

// markSynced advances the last sync time, never moving it backwards.
func (e *Engine) markSynced(tx *store.Tx, serverTime time.Time) {
	t := serverTime
	if t.IsZero() {
		t = e.now()
	}
	if prev := tx.LastSyncTime(); prev != nil && prev.After(t) {
		t = *prev
	}
	tx.MarkSynced(t)
}

func (e *Engine) record(outcome string, res Result) {
	if e.recorder != nil {
		e.recorder.RecordSync(outcome, res.Sent, res.Received, res.Duration)
	}
}
