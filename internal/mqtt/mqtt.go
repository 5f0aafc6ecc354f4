// Package mqtt publishes knob state and lifecycle events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"
)

// DefaultTopic is the base topic; state and system events hang off it.
const DefaultTopic = "audio/volume/knob"

// System event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventOffline   = "OFFLINE"
	EventHeartbeat = "HEARTBEAT"
)

// StateTopic returns the retained volume topic under base.
func StateTopic(base string) string { return base + "/state" }

// SystemTopic returns the lifecycle topic under base.
func SystemTopic(base string) string { return base + "/system" }

// Publisher publishes volume changes and lifecycle events.
type Publisher interface {
	// PublishVolume sends the current volume as retained state.
	PublishVolume(event VolumeEvent) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// VolumeEvent is one applied volume level.
type VolumeEvent struct {
	Timestamp time.Time
	Percent   int
}

// SystemEvent represents a lifecycle event (startup, shutdown, offline,
// heartbeat).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string        // e.g. "SIGTERM" (shutdown only)
	Config    *SystemConfig // startup only
	Heartbeat *Heartbeat    // heartbeat only
	Retained  bool
}

// Heartbeat is the periodic activity summary. This is a local copy of the
// decoder counters to avoid importing internal/encoder from mqtt.
type Heartbeat struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	Volume        int   `json:"volume"`
	StepsUp       int   `json:"steps_up"`
	StepsDown     int   `json:"steps_down"`
	Clamped       int   `json:"clamped"`
	Wakes         int   `json:"wakes"`
}

// SystemConfig is the configuration summary carried by STARTUP.
type SystemConfig struct {
	ClkPin        int    `json:"clk_pin"`
	DtPin         int    `json:"dt_pin"`
	Device        string `json:"device"`
	StartupVolume int    `json:"startup_volume"`
	Min           int    `json:"min"`
	Max           int    `json:"max"`
}

// Payload is the state message body.
type Payload struct {
	Volume VolumePayload `json:"volume"`
}

// VolumePayload contains the volume details.
type VolumePayload struct {
	Timestamp string `json:"timestamp"`
	Percent   int    `json:"percent"`
}

// FormatPayload creates the JSON payload for a volume event.
func FormatPayload(event VolumeEvent) ([]byte, error) {
	return json.Marshal(Payload{
		Volume: VolumePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Percent:   event.Percent,
		},
	})
}

// SystemPayload is the lifecycle message body.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	Reason    string        `json:"reason,omitempty"`
	Config    *SystemConfig `json:"config,omitempty"`
	Heartbeat *Heartbeat    `json:"heartbeat,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Config:    event.Config,
			Heartbeat: event.Heartbeat,
		},
	})
}

// Sink publishes applied volume levels. It satisfies throttle.Sink[int].
type Sink struct {
	pub Publisher
	now func() time.Time
}

// NewSink wraps pub. A nil now uses time.Now.
func NewSink(pub Publisher, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{pub: pub, now: now}
}

// Apply publishes percent as the current state.
func (s *Sink) Apply(percent int) error {
	return s.pub.PublishVolume(VolumeEvent{Timestamp: s.now(), Percent: percent})
}
