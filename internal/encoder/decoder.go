package encoder

import (
	"errors"
	"fmt"
	"time"
)

// Decoder turns CLK/DT samples into clamped volume steps and tracks
// inactivity for the sleep gate. It is not safe for concurrent use; the
// polling goroutine owns it.
type Decoder struct {
	cfg Config

	value         int
	lastActivity  time.Time
	debounceStart time.Time
	waiting       bool
	phase         phase
	lastClock     bool

	counts Counts
}

// NewDecoder creates a decoder starting at initial (clamped into bounds).
// The sleep gate's inactivity timer starts at now.
func NewDecoder(cfg Config, initial int, now time.Time) (*Decoder, error) {
	if cfg.Min > cfg.Max {
		return nil, fmt.Errorf("encoder bounds: min %d > max %d", cfg.Min, cfg.Max)
	}
	if cfg.Debounce <= 0 || cfg.Reset <= 0 || cfg.Sleep <= 0 {
		return nil, errors.New("encoder windows must be positive")
	}
	return &Decoder{
		cfg:           cfg,
		value:         clamp(initial, cfg.Min, cfg.Max),
		lastActivity:  now,
		debounceStart: now,
		lastClock:     true, // pull-up: CLK rests high
	}, nil
}

// Process feeds one sample through the debouncer and step logic.
// Returns the current value and whether it changed on this sample.
// A step absorbed by a bound resets the settle phase and counts as
// activity but does not report a change.
func (d *Decoder) Process(s Sample) (int, bool) {
	d.lastClock = s.Clock

	if d.phase == phaseSettle {
		d.settle(s)
		return d.value, false
	}

	if !d.edge(s) {
		return d.value, false
	}
	return d.step(s)
}

// edge reports a falling edge once CLK has been low for the debounce window.
func (d *Decoder) edge(s Sample) bool {
	if s.Clock {
		d.waiting = false
		return false
	}
	if !d.waiting {
		d.waiting = true
		d.debounceStart = s.Time
		return false
	}
	if s.Time.Sub(d.debounceStart) >= d.cfg.Debounce {
		d.waiting = false
		return true
	}
	return false
}

// step applies one detent. DT low on the CLK edge means clockwise.
func (d *Decoder) step(s Sample) (int, bool) {
	prev := d.value
	if !s.Data {
		d.value = clamp(d.value+1, d.cfg.Min, d.cfg.Max)
	} else {
		d.value = clamp(d.value-1, d.cfg.Min, d.cfg.Max)
	}

	d.lastActivity = s.Time
	d.phase = phaseSettle
	d.waiting = false

	switch {
	case d.value > prev:
		d.counts.Up++
	case d.value < prev:
		d.counts.Down++
	default:
		d.counts.Clamped++
		return d.value, false
	}
	return d.value, true
}

// settle waits for CLK to be continuously high for the reset window.
// Any low sample restarts the run.
func (d *Decoder) settle(s Sample) {
	if !s.Clock {
		d.waiting = false
		return
	}
	if !d.waiting {
		d.waiting = true
		d.debounceStart = s.Time
		return
	}
	if s.Time.Sub(d.debounceStart) >= d.cfg.Reset {
		d.phase = phaseArm
		d.waiting = false
	}
}

// Idle reports whether the sleep timeout has passed since the last step
// or wake-up. It is never true while a falling edge is being debounced,
// or while CLK is high and the settle window is still running: a gate
// closed there would spend the next detent's edge finishing the settle.
func (d *Decoder) Idle(now time.Time) bool {
	if d.phase == phaseArm && d.waiting {
		return false
	}
	if d.settling() && d.lastClock {
		return false
	}
	return now.Sub(d.lastActivity) >= d.cfg.Sleep
}

// Wake resets the inactivity timer after the sleep gate opens.
// A partially observed debounce or settle run is discarded.
func (d *Decoder) Wake(now time.Time) {
	d.lastActivity = now
	d.waiting = false
	d.counts.Wakes++
}

// LastClock returns the CLK level from the most recent sample.
func (d *Decoder) LastClock() bool {
	return d.lastClock
}

// Value returns the current value.
func (d *Decoder) Value() int {
	return d.value
}

// settling reports whether the decoder is waiting for the reset window.
func (d *Decoder) settling() bool {
	return d.phase == phaseSettle
}

// Bounds returns the configured inclusive bounds.
func (d *Decoder) Bounds() (lo, hi int) {
	return d.cfg.Min, d.cfg.Max
}

// CountsSnapshot returns a copy of the activity counters.
func (d *Decoder) CountsSnapshot() Counts {
	return d.counts
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
