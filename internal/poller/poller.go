// Package poller runs the encoder sampling loop: sleep gate, debounce and
// decode, then hands new values to the consumer.
package poller

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/volume-knob/internal/encoder"
	"github.com/sweeney/volume-knob/internal/gpio"
)

// DefaultInterval is the pause between samples while active.
const DefaultInterval = 100 * time.Microsecond

// Consecutive read failures tolerated before the loop gives up.
const maxReadErrors = 100

// readErrorBackoff is the pause after a failed read.
const readErrorBackoff = 10 * time.Millisecond

// Outbox receives decoded values. latest.Chan[int] satisfies it.
type Outbox interface {
	Send(v int)
	Close()
}

// Poller owns the encoder lines and decoder for its whole lifetime.
type Poller struct {
	reader   gpio.Reader
	dec      *encoder.Decoder
	interval time.Duration
	log      logrus.FieldLogger

	now      func() time.Time
	sleep    func(time.Duration)
	onSleep  func(asleep bool)
	onCounts func(encoder.Counts)
	counts   encoder.Counts // last reported to onCounts
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces time.Now and time.Sleep. Used by tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// WithCountsObserver registers fn to be called whenever the decoder's
// step or wake counters move. fn runs on the polling goroutine and must
// not block.
func WithCountsObserver(fn func(encoder.Counts)) Option {
	return func(p *Poller) {
		p.onCounts = fn
	}
}

// WithSleepObserver registers fn to be called on every sleep gate
// transition. fn runs on the polling goroutine and must not block.
func WithSleepObserver(fn func(asleep bool)) Option {
	return func(p *Poller) {
		p.onSleep = fn
	}
}

// New creates a Poller sampling r every interval (0 = yield only).
func New(r gpio.Reader, dec *encoder.Decoder, interval time.Duration, log logrus.FieldLogger, opts ...Option) *Poller {
	p := &Poller{
		reader:   r,
		dec:      dec,
		interval: interval,
		log:      log.WithField("component", "poller"),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run samples until ctx is cancelled or the lines fail. It closes out on
// return so a blocked consumer sees the channel close. Cancellation
// returns nil.
func (p *Poller) Run(ctx context.Context, out Outbox) error {
	defer out.Close()

	readErrs := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		if p.dec.Idle(p.now()) {
			if err := p.waitForEdge(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		clk, dt, err := p.reader.Read()
		if err != nil {
			readErrs++
			if readErrs == 1 {
				p.log.WithError(err).Warn("gpio read error")
			}
			if readErrs >= maxReadErrors {
				return fmt.Errorf("gpio read failed %d times: %w", readErrs, err)
			}
			p.sleep(readErrorBackoff)
			continue
		}
		if readErrs > 0 {
			p.log.Infof("gpio read recovered after %d errors", readErrs)
			readErrs = 0
		}

		if v, ok := p.dec.Process(encoder.Sample{Clock: clk, Data: dt, Time: p.now()}); ok {
			p.log.Debugf("volume: %d", v)
			out.Send(v)
		}
		p.reportCounts()

		p.pause()
	}
}

// waitForEdge closes the sleep gate and blocks until CLK moves.
func (p *Poller) waitForEdge(ctx context.Context) error {
	p.log.Debug("volume control going to sleep")
	p.notify(true)

	if err := p.reader.WaitForEdge(ctx, p.dec.LastClock()); err != nil {
		return fmt.Errorf("wait for edge: %w", err)
	}

	p.dec.Wake(p.now())
	p.log.Debug("volume control waking up")
	p.notify(false)
	p.reportCounts()
	return nil
}

func (p *Poller) reportCounts() {
	if p.onCounts == nil {
		return
	}
	if c := p.dec.CountsSnapshot(); c != p.counts {
		p.counts = c
		p.onCounts(c)
	}
}

func (p *Poller) notify(asleep bool) {
	if p.onSleep != nil {
		p.onSleep(asleep)
	}
}

func (p *Poller) pause() {
	if p.interval > 0 {
		p.sleep(p.interval)
		return
	}
	runtime.Gosched()
}
