package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// scriptedSyncer returns the queued errors in order, then succeeds.
type scriptedSyncer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *scriptedSyncer) Sync(_ context.Context, _ Strategy) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return Result{}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return Result{}, err
}

func (s *scriptedSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func runScheduler(t *testing.T, sched *Scheduler) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- sched.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func TestBackOffSequence(t *testing.T) {
	b := newBackOff(30*time.Second, 300*time.Second)

	want := []time.Duration{30, 60, 120, 240, 300, 300}
	for i, w := range want {
		if got := b.NextBackOff(); got != w*time.Second {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Second)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != 30*time.Second {
		t.Errorf("after reset got %v, want 30s", got)
	}
}

func TestSchedulerRetriesTransportErrors(t *testing.T) {
	transient := &types.TransportError{Op: "pull", Err: errors.New("connection refused")}
	syncer := &scriptedSyncer{errs: []error{transient, transient}}

	sched := NewScheduler(syncer, SchedulerOptions{
		Interval:  time.Hour,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  40 * time.Millisecond,
		Debounce:  time.Hour,
	}, testLogger)
	runScheduler(t, sched)

	require.Eventually(t, func() bool { return syncer.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sched.Failures() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, sched.LastError())

	// The next run is an hour away.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, syncer.count())
}

func TestSchedulerDebouncesChanges(t *testing.T) {
	syncer := &scriptedSyncer{}
	sched := NewScheduler(syncer, SchedulerOptions{
		Interval: time.Hour,
		Debounce: 60 * time.Millisecond,
	}, testLogger)
	runScheduler(t, sched)

	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		sched.Notify()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, syncer.count(), "no sync before the quiet period ends")

	require.Eventually(t, func() bool { return syncer.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, syncer.count(), "a burst of changes produces one sync")
}

func TestSchedulerStopsOnAuthError(t *testing.T) {
	syncer := &scriptedSyncer{errs: []error{&types.AuthError{Err: errors.New("token expired")}}}
	sched := NewScheduler(syncer, SchedulerOptions{BaseDelay: time.Millisecond}, testLogger)
	_, done := runScheduler(t, sched)

	select {
	case err := <-done:
		var ae *types.AuthError
		require.ErrorAs(t, err, &ae)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler kept running after an auth failure")
	}
	assert.Equal(t, 1, syncer.count())
}

func TestSchedulerWaitsForChangeAfterValidationError(t *testing.T) {
	invalid := &types.ValidationError{Index: 0, Field: "url", Err: errors.New("is required")}
	syncer := &scriptedSyncer{errs: []error{invalid}}
	sched := NewScheduler(syncer, SchedulerOptions{
		Interval:  10 * time.Millisecond,
		BaseDelay: 10 * time.Millisecond,
		Debounce:  20 * time.Millisecond,
	}, testLogger)
	runScheduler(t, sched)

	require.Eventually(t, func() bool { return syncer.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, syncer.count(), "validation failures are not retried on a timer")
	assert.Equal(t, 1, sched.Failures())

	sched.Notify()
	require.Eventually(t, func() bool { return syncer.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	sched := NewScheduler(&scriptedSyncer{}, SchedulerOptions{}, testLogger)
	cancel, done := runScheduler(t, sched)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
