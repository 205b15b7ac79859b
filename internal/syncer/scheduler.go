package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Syncer runs a sync cycle. *Engine implements it.
type Syncer interface {
	Sync(ctx context.Context, strategy Strategy) (Result, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Strategy  Strategy
	Interval  time.Duration // between successful cycles
	BaseDelay time.Duration // first retry delay after a failure
	MaxDelay  time.Duration // retry delay ceiling
	Debounce  time.Duration // quiet period after a local change
}

// DefaultSchedulerOptions returns the production schedule.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Strategy:  StrategyReplace,
		Interval:  5 * time.Minute,
		BaseDelay: 30 * time.Second,
		MaxDelay:  300 * time.Second,
		Debounce:  3 * time.Second,
	}
}

// Scheduler triggers sync cycles on an interval and shortly after local
// changes. Transport failures are retried with exponential backoff.
// Validation failures wait for the next local change. An auth failure
// stops the scheduler and is returned from Run.
type Scheduler struct {
	syncer  Syncer
	opts    SchedulerOptions
	backoff *backoff.ExponentialBackOff
	changes chan struct{}
	logger  *slog.Logger

	mu       sync.Mutex
	failures int
	lastErr  error
}

// NewScheduler creates a scheduler for s.
func NewScheduler(s Syncer, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	def := DefaultSchedulerOptions()
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}

	return &Scheduler{
		syncer:  s,
		opts:    opts,
		backoff: newBackOff(opts.BaseDelay, opts.MaxDelay),
		changes: make(chan struct{}, 1),
		logger:  logger.With("component", "sync_scheduler"),
	}
}

// newBackOff doubles from base up to ceiling and never gives up.
func newBackOff(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.MaxInterval = ceiling
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Notify records a local change. A cycle runs once no further change has
// arrived for the debounce period. Safe to call from any goroutine.
func (s *Scheduler) Notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Failures returns the number of consecutive failed cycles.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// LastError returns the error of the most recent cycle, or nil.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run syncs immediately and then keeps syncing until ctx is done or the
// remote rejects the credentials.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"strategy", s.opts.Strategy,
		"interval", s.opts.Interval,
		"debounce", s.opts.Debounce,
	)

	next := time.NewTimer(0)
	defer next.Stop()
	debounce := time.NewTimer(s.opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil

		case <-s.changes:
			resetTimer(debounce, s.opts.Debounce)
			continue

		case <-debounce.C:
		case <-next.C:
		}

		delay, err := s.runOnce(ctx)
		if err != nil {
			return err
		}
		if delay > 0 {
			resetTimer(next, delay)
		} else {
			next.Stop()
		}
	}
}

// runOnce runs a cycle and returns the delay before the next scheduled one.
// A zero delay means wait for a local change.
func (s *Scheduler) runOnce(ctx context.Context) (time.Duration, error) {
	res, err := s.syncer.Sync(ctx, s.opts.Strategy)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err

	if err == nil {
		if s.failures > 0 {
			s.logger.Info("sync recovered", "after_failures", s.failures)
		}
		s.failures = 0
		s.backoff.Reset()
		if res.Skipped {
			s.logger.Debug("cycle skipped")
		}
		return s.opts.Interval, nil
	}

	if ctx.Err() != nil {
		return 0, nil
	}

	s.failures++

	var ae *types.AuthError
	if errors.As(err, &ae) {
		s.logger.Error("sync stopped: authentication expired", "error", err)
		return 0, err
	}

	if !types.IsRetryable(err) {
		s.logger.Error("sync rejected, waiting for local changes", "error", err)
		return 0, nil
	}

	delay := s.backoff.NextBackOff()
	s.logger.Warn("sync failed, retrying", "error", err, "failures", s.failures, "retry_in", delay)
	return delay, nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
