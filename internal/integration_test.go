package internal

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sweeney/volume-knob/internal/display"
	"github.com/sweeney/volume-knob/internal/encoder"
	"github.com/sweeney/volume-knob/internal/gpio"
	"github.com/sweeney/volume-knob/internal/latest"
	"github.com/sweeney/volume-knob/internal/mixer"
	"github.com/sweeney/volume-knob/internal/mqtt"
	"github.com/sweeney/volume-knob/internal/poller"
	"github.com/sweeney/volume-knob/internal/throttle"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// detent is one clean click. The poller reads the clock twice per sample,
// so each sample spans 200us of fake time.
func detent(clockwise bool) []gpio.Sample {
	var out []gpio.Sample
	for i := 0; i < 5; i++ {
		out = append(out, gpio.Sample{CLK: false, DT: !clockwise})
	}
	for i := 0; i < 25; i++ {
		out = append(out, gpio.Sample{CLK: true, DT: true})
	}
	return out
}

func detents(dirs ...bool) []gpio.Sample {
	var out []gpio.Sample
	for _, cw := range dirs {
		out = append(out, detent(cw)...)
	}
	return out
}

// pipeline wires reader -> poller -> latest.Chan -> throttled fakes the
// way cmd/volume-knob does, with a consumer goroutine standing in for the
// main loop.
type pipeline struct {
	reader *gpio.FakeReader
	mix    *mixer.FakeMixer
	disp   *display.FakeDisplay
	pub    *mqtt.FakePublisher
	values *latest.Chan[int]

	mu       sync.Mutex
	asleep   []bool
	received []int

	cancel   context.CancelFunc
	pollDone chan error
	consumed chan struct{}
}

func startPipeline(t *testing.T, samples []gpio.Sample, mix *mixer.FakeMixer, ceiling int, cfg encoder.Config) *pipeline {
	t.Helper()
	log, _ := test.NewNullLogger()

	level, applied := mixer.StartupVolume(context.Background(), mix, ceiling, mixer.DefaultFallback, log)
	dec, err := encoder.NewDecoder(cfg, level, t0)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	p := &pipeline{
		reader:   gpio.NewFakeReader(samples),
		mix:      mix,
		disp:     display.NewFakeDisplay(),
		pub:      mqtt.NewFakePublisher(),
		values:   latest.New[int](),
		pollDone: make(chan error, 1),
		consumed: make(chan struct{}),
	}

	// The consumer clock never moves: display and mqtt accept one write,
	// the mixer (no interval) accepts every distinct value.
	still := func() time.Time { return t0 }
	mixerOut := throttle.NewUnsynced[int]("mixer", mixer.NewSink(context.Background(), mix), 0, still)
	if applied {
		mixerOut = throttle.New[int]("mixer", mixer.NewSink(context.Background(), mix), level, 0, still)
	}
	outputs := []*throttle.Throttler[int]{
		throttle.NewUnsynced[int]("display", display.NewSink(p.disp), time.Second, still),
		mixerOut,
		throttle.NewUnsynced[int]("mqtt", mqtt.NewSink(p.pub, still), time.Second, still),
	}

	pl := poller.New(p.reader, dec, time.Microsecond, log,
		poller.WithClock(fakeClock(t0, 100*time.Microsecond), func(time.Duration) {}),
		poller.WithSleepObserver(func(asleep bool) {
			p.mu.Lock()
			p.asleep = append(p.asleep, asleep)
			p.mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() { p.pollDone <- pl.Run(ctx, p.values) }()

	go func() {
		defer close(p.consumed)
		for {
			v, err := p.values.Recv(context.Background())
			if err != nil {
				return
			}
			p.mu.Lock()
			p.received = append(p.received, v)
			p.mu.Unlock()
			for _, out := range outputs {
				out.Update(v)
			}
		}
	}()

	t.Cleanup(cancel)
	return p
}

// waitAsleep waits until the poller has parked on the sleep gate.
func (p *pipeline) waitAsleep(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.reader.Waits() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller never went to sleep")
		}
		time.Sleep(time.Millisecond)
	}
}

// stop cancels the poller and waits for the consumer to drain.
func (p *pipeline) stop(t *testing.T) error {
	t.Helper()
	p.cancel()
	var err error
	select {
	case err = <-p.pollDone:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	select {
	case <-p.consumed:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not see the channel close")
	}
	return err
}

func shortSleep() encoder.Config {
	cfg := encoder.DefaultConfig()
	cfg.Sleep = 100 * time.Millisecond
	return cfg
}

func TestIntegrationDetentsReachEveryOutput(t *testing.T) {
	p := startPipeline(t, detents(true, true, true, false), mixer.NewFakeMixer(50), 100, shortSleep())

	p.waitAsleep(t)
	if err := p.stop(t); err != nil {
		t.Fatalf("poller: %v", err)
	}

	// 50 -> 51 -> 52 -> 53 -> 52. The consumer may see any newest-wins
	// subsequence, but always ends on the final value.
	if len(p.mix.SetCalls) == 0 || p.mix.SetCalls[len(p.mix.SetCalls)-1] != 52 {
		t.Fatalf("mixer should end at 52, got %v", p.mix.SetCalls)
	}
	for i, v := range p.mix.SetCalls {
		if v < 51 || v > 53 {
			t.Errorf("mixer call %d out of range: %d", i, v)
		}
		if i > 0 && v == p.mix.SetCalls[i-1] {
			t.Errorf("mixer written twice with %d", v)
		}
	}

	// Rate-limited outputs took only the first value they were offered.
	if len(p.disp.Rendered) != 1 {
		t.Errorf("display renders: got %v, want exactly one", p.disp.Rendered)
	}
	if got := p.pub.Percents(); len(got) != 1 || got[0] != p.received[0] {
		t.Errorf("mqtt: got %v, want first received value %d", got, p.received[0])
	}

	stats := p.values.Stats()
	if stats.Sent != 4 {
		t.Errorf("channel sent: got %d, want 4", stats.Sent)
	}
	if stats.Sent-stats.Superseded != len(p.received) {
		t.Errorf("sent %d superseded %d but consumer saw %d", stats.Sent, stats.Superseded, len(p.received))
	}
}

func TestIntegrationPollerSleepsAfterActivity(t *testing.T) {
	p := startPipeline(t, detents(true), mixer.NewFakeMixer(20), 100, shortSleep())

	p.waitAsleep(t)
	reads := p.reader.Reads()
	time.Sleep(20 * time.Millisecond)
	if got := p.reader.Reads(); got != reads {
		t.Errorf("reads while asleep: %d -> %d", reads, got)
	}

	p.stop(t)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.asleep) != 1 || !p.asleep[0] {
		t.Errorf("sleep transitions: got %v, want [true]", p.asleep)
	}
}

func TestIntegrationStartupVolumeCappedByCeiling(t *testing.T) {
	mix := mixer.NewFakeMixer(90)
	p := startPipeline(t, detents(true), mix, 70, shortSleep())

	p.waitAsleep(t)
	p.stop(t)

	if !reflect.DeepEqual(p.mix.SetCalls, []int{70, 71}) {
		t.Errorf("mixer: got %v, want [70 71] (capped at startup, then one step)", p.mix.SetCalls)
	}

	if len(p.pub.Payloads) != 1 {
		t.Fatalf("expected 1 mqtt payload, got %d", len(p.pub.Payloads))
	}
	var parsed mqtt.Payload
	if err := json.Unmarshal(p.pub.Payloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Volume.Percent != 71 || parsed.Volume.Timestamp != "2026-01-01T12:00:00Z" {
		t.Errorf("payload: got %+v", parsed.Volume)
	}
}

func TestIntegrationStartupCapAppliedWithoutTurning(t *testing.T) {
	mix := mixer.NewFakeMixer(90)
	p := startPipeline(t, []gpio.Sample{{CLK: true, DT: true}}, mix, 70, shortSleep())

	p.waitAsleep(t)
	p.stop(t)

	if !reflect.DeepEqual(p.mix.SetCalls, []int{70}) {
		t.Errorf("mixer: got %v, want [70]", p.mix.SetCalls)
	}
	if p.mix.Volume != 70 {
		t.Errorf("mixer left at %d%%, above the startup ceiling", p.mix.Volume)
	}
	if len(p.received) != 0 {
		t.Errorf("no steps expected, got %v", p.received)
	}
}

func TestIntegrationUnreadableMixerStartsAtFallback(t *testing.T) {
	mix := mixer.NewFakeMixer(0)
	mix.GetError = errors.New("amixer: no such control")
	p := startPipeline(t, detents(false), mix, 100, shortSleep())

	p.waitAsleep(t)
	p.stop(t)

	if len(p.mix.SetCalls) != 1 || p.mix.SetCalls[0] != 49 {
		t.Errorf("mixer: got %v, want [49] (fallback 50 - one step)", p.mix.SetCalls)
	}
}

func TestIntegrationClampAtMax(t *testing.T) {
	mix := mixer.NewFakeMixer(99)
	p := startPipeline(t, detents(true, true, true), mix, 100, shortSleep())

	p.waitAsleep(t)
	p.stop(t)

	if len(p.mix.SetCalls) != 1 || p.mix.SetCalls[0] != 100 {
		t.Errorf("mixer: got %v, want [100]", p.mix.SetCalls)
	}
	if p.values.Stats().Sent != 1 {
		t.Errorf("clamped steps should not be sent, got %d sends", p.values.Stats().Sent)
	}
}

func TestIntegrationGPIOFailureClosesChannel(t *testing.T) {
	log, _ := test.NewNullLogger()
	reader := gpio.NewFakeReader(detents(true))
	reader.ReadError = errors.New("line released")

	dec, err := encoder.NewDecoder(encoder.DefaultConfig(), 50, t0)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	values := latest.New[int]()
	pl := poller.New(reader, dec, 0, log, poller.WithClock(fakeClock(t0, time.Millisecond), func(time.Duration) {}))

	done := make(chan error, 1)
	go func() { done <- pl.Run(context.Background(), values) }()

	// The consumer is not shutting down, so a closed channel is an error.
	if _, err := values.Recv(context.Background()); !errors.Is(err, latest.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := <-done; err == nil {
		t.Error("poller should report the read failure")
	}
}
