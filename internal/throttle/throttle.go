// Package throttle suppresses redundant or too-frequent writes to slow sinks.
package throttle

import (
	"fmt"
	"time"
)

// Sink is anything that can apply a value, such as a display or mixer.
type Sink[T any] interface {
	Apply(v T) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[T any] func(v T) error

// Apply calls f(v).
func (f SinkFunc[T]) Apply(v T) error {
	return f(v)
}

// Stats counts what Update did with each value.
type Stats struct {
	Applied     int
	Unchanged   int // same as the last applied value
	RateLimited int // dropped because the interval had not elapsed
	Failed      int
	LastError   string
	LastApplied time.Time
}

// Throttler writes a value to its sink only when it differs from the last
// applied value and at least Interval has passed since that write.
// A rate-limited value is dropped, not queued. Not safe for concurrent use.
type Throttler[T comparable] struct {
	name     string
	sink     Sink[T]
	interval time.Duration
	now      func() time.Time

	last     T
	lastTime time.Time
	synced   bool // last reflects what the sink holds

	pending    T
	hasPending bool

	stats Stats
}

// New creates a Throttler that considers initial already applied.
// The first differing value is written immediately.
func New[T comparable](name string, sink Sink[T], initial T, interval time.Duration, now func() time.Time) *Throttler[T] {
	if now == nil {
		now = time.Now
	}
	return &Throttler[T]{
		name:     name,
		sink:     sink,
		interval: interval,
		now:      now,
		last:     initial,
		synced:   true,
	}
}

// NewUnsynced creates a Throttler for a sink whose current value is
// unknown. The first Update is written whatever its value.
func NewUnsynced[T comparable](name string, sink Sink[T], interval time.Duration, now func() time.Time) *Throttler[T] {
	var zero T
	t := New(name, sink, zero, interval, now)
	t.synced = false
	return t
}

// Update offers v to the sink. It returns nil when v was applied,
// unchanged, or rate-limited. On sink failure the throttle state is left
// untouched so the same value can be written on a later call.
func (t *Throttler[T]) Update(v T) error {
	if t.synced && v == t.last {
		t.stats.Unchanged++
		t.clearPending()
		return nil
	}

	now := t.now()
	if !t.lastTime.IsZero() && now.Sub(t.lastTime) < t.interval {
		t.stats.RateLimited++
		t.pending = v
		t.hasPending = true
		return nil
	}

	return t.apply(v, now)
}

// Flush writes the most recent rate-limited value once the interval has
// elapsed. It is a no-op when nothing is pending or it is still too soon.
func (t *Throttler[T]) Flush() error {
	if !t.hasPending {
		return nil
	}
	if t.synced && t.pending == t.last {
		t.clearPending()
		return nil
	}

	now := t.now()
	if now.Sub(t.lastTime) < t.interval {
		return nil
	}
	return t.apply(t.pending, now)
}

func (t *Throttler[T]) apply(v T, now time.Time) error {
	if err := t.sink.Apply(v); err != nil {
		t.stats.Failed++
		t.stats.LastError = err.Error()
		return fmt.Errorf("%s: %w", t.name, err)
	}

	t.last = v
	t.lastTime = now
	t.synced = true
	t.clearPending()
	t.stats.Applied++
	t.stats.LastApplied = now
	return nil
}

func (t *Throttler[T]) clearPending() {
	var zero T
	t.pending = zero
	t.hasPending = false
}

// Name returns the sink name used in errors and status output.
func (t *Throttler[T]) Name() string {
	return t.name
}

// Last returns the last value the sink accepted. It is the zero value
// for an unsynced throttler that has not written yet.
func (t *Throttler[T]) Last() T {
	return t.last
}

// Synced reports whether Last is known to be what the sink holds.
func (t *Throttler[T]) Synced() bool {
	return t.synced
}

// Pending returns the most recent value dropped by the rate limit, if any.
func (t *Throttler[T]) Pending() (T, bool) {
	return t.pending, t.hasPending
}

// Interval returns the minimum time between writes.
func (t *Throttler[T]) Interval() time.Duration {
	return t.interval
}

// Stats returns a copy of the counters.
func (t *Throttler[T]) Stats() Stats {
	return t.stats
}
