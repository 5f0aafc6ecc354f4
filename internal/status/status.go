// Package status provides a thread-safe status tracker for the volume-knob
// daemon. It is read by the HTTP handlers and written by the main loop and
// the poller's observers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/volume-knob/internal/encoder"
	"github.com/sweeney/volume-knob/internal/latest"
	"github.com/sweeney/volume-knob/internal/throttle"
)

// NetworkInfo is the host's network state as reported by the
// provisioning helper's environment.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	ClkPin        int
	DtPin         int
	Device        string
	StartupVolume int
	DebounceUs    int64
	ResetMs       int64
	SleepMs       int64
	LoopMs        int64
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
}

// SinkStatus is one throttled output as seen by the main loop.
type SinkStatus struct {
	Name     string
	Interval time.Duration
	Last     int
	Synced   bool // false until an output with unknown state is written
	Pending  bool
	Stats    throttle.Stats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Volume        int
	Min           int
	Max           int
	Asleep        bool
	Counts        encoder.Counts
	LastChange    time.Time
	Channel       latest.Stats
	Sinks         []SinkStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker. volume is the startup level; min and max
// are the decoder bounds.
func NewTracker(startTime time.Time, cfg Config, volume, min, max int) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Volume:    volume,
			Min:       min,
			Max:       max,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetVolume records a new decoded level. It reports whether the level
// differs from the previous one.
func (t *Tracker) SetVolume(v int, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v == t.snap.Volume {
		return false
	}
	t.snap.Volume = v
	t.snap.LastChange = at
	return true
}

// SetAsleep records a sleep gate transition.
func (t *Tracker) SetAsleep(asleep bool) {
	t.mu.Lock()
	t.snap.Asleep = asleep
	t.mu.Unlock()
}

// SetCounts records the decoder's step and wake counters.
func (t *Tracker) SetCounts(c encoder.Counts) {
	t.mu.Lock()
	t.snap.Counts = c
	t.mu.Unlock()
}

// Update sets channel and sink statistics. Called from runLoop on every cycle.
func (t *Tracker) Update(ch latest.Stats, sinks []SinkStatus) {
	cp := make([]SinkStatus, len(sinks))
	copy(cp, sinks)

	t.mu.Lock()
	t.snap.Channel = ch
	t.snap.Sinks = cp
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info. nil clears it.
func (t *Tracker) SetNetwork(n *NetworkInfo) {
	var cp *NetworkInfo
	if n != nil {
		v := *n
		cp = &v
	}
	t.mu.Lock()
	t.snap.Network = cp
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Sinks = append([]SinkStatus(nil), t.snap.Sinks...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
