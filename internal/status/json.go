package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Volume        int          `json:"volume"`
	Min           int          `json:"min"`
	Max           int          `json:"max"`
	Asleep        bool         `json:"asleep"`
	Counts        CountsJSON   `json:"counts"`
	LastChange    string       `json:"last_change,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Channel       ChannelJSON  `json:"channel"`
	Sinks         []SinkJSON   `json:"sinks"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// CountsJSON reports decoder activity since startup.
type CountsJSON struct {
	Up      int `json:"up"`
	Down    int `json:"down"`
	Clamped int `json:"clamped"`
	Wakes   int `json:"wakes"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ChannelJSON reports latest-value channel traffic.
type ChannelJSON struct {
	Sent       int `json:"sent"`
	Superseded int `json:"superseded"`
}

// SinkJSON reports one throttled output.
type SinkJSON struct {
	Name        string `json:"name"`
	IntervalMs  int64  `json:"interval_ms"`
	Last        int    `json:"last"`
	Synced      bool   `json:"synced"`
	Pending     bool   `json:"pending"`
	Applied     int    `json:"applied"`
	Unchanged   int    `json:"unchanged"`
	RateLimited int    `json:"rate_limited"`
	Failed      int    `json:"failed"`
	LastError   string `json:"last_error,omitempty"`
	LastApplied string `json:"last_applied,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ClkPin        int    `json:"clk_pin"`
	DtPin         int    `json:"dt_pin"`
	Device        string `json:"device"`
	StartupVolume int    `json:"startup_volume"`
	DebounceUs    int64  `json:"debounce_us"`
	ResetMs       int64  `json:"reset_ms"`
	SleepMs       int64  `json:"sleep_ms"`
	LoopMs        int64  `json:"loop_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	sinks := make([]SinkJSON, 0, len(snap.Sinks))
	for _, s := range snap.Sinks {
		sinks = append(sinks, SinkJSON{
			Name:        s.Name,
			IntervalMs:  s.Interval.Milliseconds(),
			Last:        s.Last,
			Synced:      s.Synced,
			Pending:     s.Pending,
			Applied:     s.Stats.Applied,
			Unchanged:   s.Stats.Unchanged,
			RateLimited: s.Stats.RateLimited,
			Failed:      s.Stats.Failed,
			LastError:   s.Stats.LastError,
			LastApplied: formatTime(s.Stats.LastApplied),
		})
	}

	var network *NetworkJSON
	if n := snap.Network; n != nil {
		network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}

	c := snap.Config
	return StatusInner{
		Volume: snap.Volume,
		Min:    snap.Min,
		Max:    snap.Max,
		Asleep: snap.Asleep,
		Counts: CountsJSON{
			Up:      snap.Counts.Up,
			Down:    snap.Counts.Down,
			Clamped: snap.Counts.Clamped,
			Wakes:   snap.Counts.Wakes,
		},
		LastChange:    formatTime(snap.LastChange),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: c.Broker},
		Channel:       ChannelJSON{Sent: snap.Channel.Sent, Superseded: snap.Channel.Superseded},
		Sinks:         sinks,
		Network:       network,
		Config: ConfigJSON{
			ClkPin:        c.ClkPin,
			DtPin:         c.DtPin,
			Device:        c.Device,
			StartupVolume: c.StartupVolume,
			DebounceUs:    c.DebounceUs,
			ResetMs:       c.ResetMs,
			SleepMs:       c.SleepMs,
			LoopMs:        c.LoopMs,
			HeartbeatMs:   c.HeartbeatMs,
			Broker:        c.Broker,
			HTTPAddr:      c.HTTPAddr,
		},
	}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
