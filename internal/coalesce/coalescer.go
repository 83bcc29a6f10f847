// Package coalesce collapses bursts of triggers into a single delayed action.
//
// A Coalescer holds one cancellable timer and the arguments of the most
// recent trigger. Every trigger cancels the pending execution and schedules a
// new one a full window later, so a burst of edits produces exactly one call
// carrying the last arguments:
//
//	refresh := coalesce.Wrap(func(snap listener.Snapshot) {
//	    orchestrator.Refresh(ctx, snap)
//	}, time.Second)
//	defer refresh.Stop()
//
//	refresh.Trigger(current)
package coalesce

import (
	"sync"
	"time"
)

// Option configures a Coalescer.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock sets the clock used for scheduling. Tests pass a FakeClock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Coalescer debounces calls to an action taking an argument of type T.
type Coalescer[T any] struct {
	action func(T)
	window time.Duration
	clock  Clock

	mu         sync.Mutex
	timer      Timer
	last       T
	pending    bool
	stopped    bool
	generation uint64
}

// Wrap returns a Coalescer that runs action at most once per quiescence
// window of length window.
func Wrap[T any](action func(T), window time.Duration, opts ...Option) *Coalescer[T] {
	o := options{clock: RealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Coalescer[T]{
		action: action,
		window: window,
		clock:  o.clock,
	}
}

// Trigger records arg as the latest arguments and reschedules the pending
// execution to window from now. Triggers after Stop are ignored.
func (c *Coalescer[T]) Trigger(arg T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.last = arg
	c.pending = true
	c.stopTimerLocked()

	c.generation++
	gen := c.generation
	c.timer = c.clock.AfterFunc(c.window, func() {
		c.fire(gen)
	})
}

// fire runs the action if gen is still the scheduled generation. A timer
// that lost the race with Stop or a newer Trigger finds a stale gen.
func (c *Coalescer[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || !c.pending || gen != c.generation {
		c.mu.Unlock()
		return
	}
	arg := c.takeLocked()
	c.mu.Unlock()

	c.action(arg)
}

// Flush runs the pending execution immediately. It returns false when
// nothing was pending.
func (c *Coalescer[T]) Flush() bool {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	c.generation++
	arg := c.takeLocked()
	c.mu.Unlock()

	c.action(arg)
	return true
}

// Cancel drops the pending execution, if any.
func (c *Coalescer[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.generation++
	c.pending = false
	var zero T
	c.last = zero
}

// Stop cancels the pending execution and ignores all further triggers.
func (c *Coalescer[T]) Stop() {
	c.Cancel()

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Pending reports whether an execution is scheduled.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coalescer[T]) takeLocked() T {
	arg := c.last
	var zero T
	c.last = zero
	c.pending = false
	c.timer = nil
	return arg
}

func (c *Coalescer[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
