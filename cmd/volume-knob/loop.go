package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/volume-knob/internal/latest"
	"github.com/sweeney/volume-knob/internal/mqtt"
	"github.com/sweeney/volume-knob/internal/status"
	"github.com/sweeney/volume-knob/internal/throttle"
	"github.com/sweeney/volume-knob/internal/web"
)

// errChannelClosed means the poller stopped while nobody asked it to.
var errChannelClosed = errors.New("encoder channel closed")

// loop is the main context. It owns the outputs exclusively; the poller
// only ever touches values.
type loop struct {
	values   *latest.Chan[int]
	outputs  []*throttle.Throttler[int]
	tracker  *status.Tracker
	hub      *web.Hub              // nil when HTTP is disabled
	mqtt     mqtt.ConnectionStatus // nil when MQTT is disabled
	log      logrus.FieldLogger
	interval time.Duration
	flush    bool

	// HEARTBEAT events go to publisher every heartbeat; 0 or a nil
	// publisher disables them.
	publisher     mqtt.Publisher
	heartbeat     time.Duration
	lastHeartbeat time.Time
	network       func() *status.NetworkInfo // refreshed on each heartbeat

	now   func() time.Time
	sleep func(time.Duration)
}

// run cycles until ctx is cancelled (nil) or the value channel closes
// underneath it (errChannelClosed). Each cycle takes at least interval.
func (l *loop) run(ctx context.Context) error {
	for {
		started := l.now()
		if err := l.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if rest := l.interval - l.now().Sub(started); rest > 0 {
			l.sleep(rest)
		}
	}
}

// cycle waits for the newest value, offers it to every output and
// refreshes status. Output failures are logged, never returned.
func (l *loop) cycle(ctx context.Context) error {
	v, err := l.next(ctx)
	switch {
	case err == nil:
		l.apply(v)
	case errors.Is(err, latest.ErrTimeout):
	case errors.Is(err, latest.ErrClosed):
		return errChannelClosed
	default:
		return fmt.Errorf("receive volume: %w", err)
	}

	if l.flush {
		l.flushPending()
	}
	l.report()
	l.beat()
	return nil
}

func (l *loop) next(ctx context.Context) (int, error) {
	if wait, ok := l.waitLimit(); ok {
		return l.values.RecvTimeout(ctx, wait)
	}
	return l.values.Recv(ctx)
}

// waitLimit bounds the receive so flushes and heartbeats still run while
// the knob is idle. ok is false when the loop may block indefinitely.
func (l *loop) waitLimit() (time.Duration, bool) {
	if l.flush {
		return l.interval, true
	}
	if l.heartbeatEnabled() {
		return max(l.heartbeat-l.now().Sub(l.lastHeartbeat), l.interval), true
	}
	return 0, false
}

func (l *loop) apply(v int) {
	for _, out := range l.outputs {
		if err := out.Update(v); err != nil {
			l.log.WithError(err).Warn("output update failed")
		}
	}

	at := l.now()
	if l.tracker.SetVolume(v, at) && l.hub != nil {
		l.hub.BroadcastVolume(v, at)
	}
}

func (l *loop) flushPending() {
	for _, out := range l.outputs {
		if err := out.Flush(); err != nil {
			l.log.WithError(err).Warn("output flush failed")
		}
	}
}

func (l *loop) report() {
	sinks := make([]status.SinkStatus, 0, len(l.outputs))
	for _, out := range l.outputs {
		_, pending := out.Pending()
		sinks = append(sinks, status.SinkStatus{
			Name:     out.Name(),
			Interval: out.Interval(),
			Last:     out.Last(),
			Synced:   out.Synced(),
			Pending:  pending,
			Stats:    out.Stats(),
		})
	}
	l.tracker.Update(l.values.Stats(), sinks)
	if l.mqtt != nil {
		l.tracker.SetMQTTConnected(l.mqtt.IsConnected())
	}
}

func (l *loop) heartbeatEnabled() bool {
	return l.publisher != nil && l.heartbeat > 0
}

// beat publishes a HEARTBEAT once the interval has elapsed since the last
// one (or startup).
func (l *loop) beat() {
	if !l.heartbeatEnabled() {
		return
	}
	now := l.now()
	if now.Sub(l.lastHeartbeat) < l.heartbeat {
		return
	}
	l.lastHeartbeat = now

	if l.network != nil {
		l.tracker.SetNetwork(l.network())
	}
	snap := l.tracker.Snapshot()
	hb := &mqtt.Heartbeat{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		Volume:        snap.Volume,
		StepsUp:       snap.Counts.Up,
		StepsDown:     snap.Counts.Down,
		Clamped:       snap.Counts.Clamped,
		Wakes:         snap.Counts.Wakes,
	}
	l.log.Infof("heartbeat: uptime=%ds volume=%d up=%d down=%d clamped=%d wakes=%d",
		hb.UptimeSeconds, hb.Volume, hb.StepsUp, hb.StepsDown, hb.Clamped, hb.Wakes)

	event := mqtt.SystemEvent{Timestamp: now, Event: mqtt.EventHeartbeat, Heartbeat: hb}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("heartbeat publish failed")
	}
}
