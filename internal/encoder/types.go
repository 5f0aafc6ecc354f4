// Package encoder contains the pure decoding logic for a two-line rotary encoder.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
// Time is always injectable via time.Time fields on samples.
package encoder

import "time"

// Default timing windows for a mechanical detent encoder.
const (
	DefaultDebounce = 500 * time.Microsecond
	DefaultReset    = 4 * time.Millisecond
	DefaultSleep    = 3 * time.Second
)

// Sample is a single reading of both encoder lines.
// Levels are electrical: true = high.
type Sample struct {
	Clock bool
	Data  bool
	Time  time.Time
}

// Config holds decoder bounds and timing windows.
type Config struct {
	Min      int
	Max      int
	Debounce time.Duration // CLK must stay low this long to count as an edge
	Reset    time.Duration // CLK must stay high this long before the next edge
	Sleep    time.Duration // inactivity before the sleep gate closes
}

// DefaultConfig returns a 0..100 decoder with the default windows.
func DefaultConfig() Config {
	return Config{
		Min:      0,
		Max:      100,
		Debounce: DefaultDebounce,
		Reset:    DefaultReset,
		Sleep:    DefaultSleep,
	}
}

// phase is the decoder's position in the step cycle.
type phase int

const (
	// phaseArm watches for a debounced falling edge on CLK.
	phaseArm phase = iota
	// phaseSettle waits for CLK to stay high for the reset window.
	phaseSettle
)

func (p phase) String() string {
	switch p {
	case phaseArm:
		return "arm"
	case phaseSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Counts tracks decoder activity since startup.
type Counts struct {
	Up      int // steps that raised the value
	Down    int // steps that lowered the value
	Clamped int // steps absorbed by a bound
	Wakes   int // sleep gate wake-ups
}
