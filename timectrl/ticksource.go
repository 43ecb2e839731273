package timectrl

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// TickSource is the real-time tick generator feeding the controller
// clock: a single cooperating worker that wakes at Interval and sets a
// shared boolean latch, read-and-cleared once per scheduler iteration.
// The scheduler owns the worker's lifecycle (Start/Stop); the worker
// itself holds no reference to unit state, so no lock is needed around
// the units the scheduler steps (spec.md §4.4, §5).
type TickSource struct {
	// Interval is the wall-clock period between ticks, normally equal to
	// the controller clock's interval.
	Interval time.Duration
	// RealTime selects whether Start spawns a worker that sets the latch
	// on every time.Ticker wake (true), or spawns no worker at all, leaving
	// the latch to be set only by explicit Tick calls, e.g. the scheduler's
	// synthetic per-iteration tick (false). See spec.md §9's note that
	// real-time pacing may be disabled in favor of a scheduler-driven
	// synthetic tick.
	RealTime bool

	latch atomic.Bool
	group *errgroup.Group
	stop  context.CancelFunc
}

// NewTickSource constructs a TickSource with the given interval, in
// real-time pacing mode by default.
func NewTickSource(interval time.Duration) *TickSource {
	return &TickSource{Interval: interval, RealTime: true}
}

// Start spawns the worker goroutine under an errgroup so Stop can join it
// deterministically. Starting an already-started source is a no-op.
func (ts *TickSource) Start(ctx context.Context) {
	if ts.group != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	ts.stop = cancel
	g, gctx := errgroup.WithContext(ctx)
	ts.group = g

	if !ts.RealTime {
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(ts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				ts.latch.Store(true)
			}
		}
	})
}

// Stop cancels the worker and blocks until it has returned.
func (ts *TickSource) Stop() error {
	if ts.group == nil {
		return nil
	}
	ts.stop()
	err := ts.group.Wait()
	ts.group = nil
	return err
}

// Tick raises the latch unconditionally; used by the scheduler to
// synthesize a tick each iteration when RealTime is false.
func (ts *TickSource) Tick() {
	ts.latch.Store(true)
}

// ReadAndClear atomically reads the latch and clears it, the operation
// the scheduler performs once per iteration before evaluating event
// conditions. Two or more physical ticks that land within one iteration
// coalesce into a single observed latch (spec.md §8, invariant 8).
func (ts *TickSource) ReadAndClear() bool {
	return ts.latch.Swap(false)
}
