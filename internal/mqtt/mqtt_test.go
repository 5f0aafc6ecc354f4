package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTopics(t *testing.T) {
	if got := StateTopic(DefaultTopic); got != "audio/volume/knob/state" {
		t.Errorf("state topic: got %s", got)
	}
	if got := SystemTopic("living/knob"); got != "living/knob/system" {
		t.Errorf("system topic: got %s", got)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	event := VolumeEvent{
		Timestamp: time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC),
		Percent:   42,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"volume":{"timestamp":"2026-03-01T20:15:00Z","percent":42}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	event := VolumeEvent{
		Timestamp: time.Date(2026, 3, 1, 21, 15, 0, 0, loc),
		Percent:   7,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Volume.Timestamp != "2026-03-01T20:15:00Z" {
		t.Errorf("timestamp should be UTC, got %s", parsed.Volume.Timestamp)
	}
}

func TestFormatSystemPayloadShutdownExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC),
		Event:     EventShutdown,
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T23:00:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadHeartbeatExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 23, 15, 0, 0, time.UTC),
		Event:     EventHeartbeat,
		Heartbeat: &Heartbeat{UptimeSeconds: 900, Volume: 42, StepsUp: 30, StepsDown: 12, Clamped: 2, Wakes: 5},
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T23:15:00Z","event":"HEARTBEAT","heartbeat":{"uptime_seconds":900,"volume":42,"steps_up":30,"steps_down":12,"clamped":2,"wakes":5}}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadStartupExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 3, 1, 19, 5, 51, 0, time.UTC),
		Event:     EventStartup,
		Config: &SystemConfig{
			ClkPin:        17,
			DtPin:         18,
			Device:        "default",
			StartupVolume: 80,
			Min:           0,
			Max:           100,
		},
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-03-01T19:05:51Z","event":"STARTUP","config":{"clk_pin":17,"dt_pin":18,"device":"default","startup_volume":80,"min":0,"max":100}}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOfflineOmitsConfig(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventOffline,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	for _, key := range []string{"reason", "config"} {
		if _, exists := system[key]; exists {
			t.Errorf("OFFLINE should not carry %s", key)
		}
	}
}

func TestClientID(t *testing.T) {
	if got := ClientID("kitchen-knob"); got != "kitchen-knob" {
		t.Errorf("explicit id: got %s", got)
	}

	a, b := ClientID(""), ClientID("")
	if !strings.HasPrefix(a, "volume-knob-") || len(a) != len("volume-knob-")+8 {
		t.Errorf("generated id has wrong shape: %s", a)
	}
	if a == b {
		t.Errorf("generated ids should differ: %s", a)
	}
}

func TestSinkPublishesVolume(t *testing.T) {
	f := NewFakePublisher()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSink(f, func() time.Time { return ts })

	if err := s.Apply(63); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := f.Percents(); len(got) != 1 || got[0] != 63 {
		t.Fatalf("percents: got %v, want [63]", got)
	}
	if !f.Volumes[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp: got %v, want %v", f.Volumes[0].Timestamp, ts)
	}
	if string(f.Payloads[0]) != `{"volume":{"timestamp":"2026-03-01T12:00:00Z","percent":63}}` {
		t.Errorf("payload: got %s", f.Payloads[0])
	}
}

func TestSinkPropagatesError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker gone")
	s := NewSink(f, nil)

	if err := s.Apply(10); err == nil {
		t.Fatal("expected error")
	}
	if len(f.Volumes) != 0 {
		t.Errorf("failed publish should not be recorded, got %d", len(f.Volumes))
	}
}

func TestFakePublisherSystemEvents(t *testing.T) {
	f := NewFakePublisher()

	f.PublishSystem(SystemEvent{Event: EventStartup, Retained: true})
	f.PublishSystem(SystemEvent{Event: EventShutdown, Reason: "SIGINT"})

	events := f.Events()
	if len(events) != 2 || events[0] != EventStartup || events[1] != EventShutdown {
		t.Errorf("events: got %v", events)
	}
	if !f.SystemEvents[0].Retained || f.SystemEvents[1].Retained {
		t.Error("retained flag not preserved")
	}

	f.PublishSystemError = errors.New("down")
	if err := f.PublishSystem(SystemEvent{Event: EventShutdown}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events()) != 2 {
		t.Error("failed publish should not be recorded")
	}
}

func TestFakePublisherCloseAndConnected(t *testing.T) {
	f := NewFakePublisher()
	if f.IsConnected() {
		t.Error("should start disconnected")
	}
	f.Connected = true
	if !f.IsConnected() {
		t.Error("should report connected")
	}
	if err := f.Close(); err != nil || !f.Closed {
		t.Errorf("close: err=%v closed=%v", err, f.Closed)
	}
}
