//go:build linux

package gpio

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// RealReader reads the encoder from actual hardware using the Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	clk   *gpiocdev.Line
	dt    *gpiocdev.Line
	edges chan struct{}
}

// NewRealReader requests the CLK and DT lines on the named chip.
// Both are inputs with pull-up; CLK additionally reports both edges so a
// sleeping poller can block on the kernel instead of sampling.
func NewRealReader(chipName string, pinCLK, pinDT int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	r := &RealReader{
		chip:  chip,
		edges: make(chan struct{}, 1),
	}

	clk, err := chip.RequestLine(pinCLK,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.onEdge),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request CLK pin %d: %w", pinCLK, err)
	}
	r.clk = clk

	dt, err := chip.RequestLine(pinDT, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		clk.Close()
		chip.Close()
		return nil, fmt.Errorf("request DT pin %d: %w", pinDT, err)
	}
	r.dt = dt

	return r, nil
}

// onEdge runs on the gpiocdev event goroutine. Only the fact that an edge
// happened matters, so extra notifications are dropped.
func (r *RealReader) onEdge(gpiocdev.LineEvent) {
	select {
	case r.edges <- struct{}{}:
	default:
	}
}

// Read returns the electrical levels of CLK and DT.
func (r *RealReader) Read() (bool, bool, error) {
	clk, err := r.clk.Value()
	if err != nil {
		return false, false, fmt.Errorf("read CLK pin: %w", err)
	}

	dt, err := r.dt.Value()
	if err != nil {
		return false, false, fmt.Errorf("read DT pin: %w", err)
	}

	return clk == 1, dt == 1, nil
}

// WaitForEdge blocks until CLK leaves level clk.
// Notifications queued while the poller was active are discarded first,
// then the live level is checked so an edge that landed between the last
// sample and the drain is not missed.
func (r *RealReader) WaitForEdge(ctx context.Context, clk bool) error {
	for drained := false; !drained; {
		select {
		case <-r.edges:
		default:
			drained = true
		}
	}

	v, err := r.clk.Value()
	if err != nil {
		return fmt.Errorf("read CLK pin: %w", err)
	}
	if (v == 1) != clk {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.edges:
		return nil
	}
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var err error

	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{{"CLK", r.clk}, {"DT", r.dt}} {
		if l.line == nil {
			continue
		}
		if e := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); e != nil {
			err = multierr.Append(err, fmt.Errorf("reconfigure %s pin: %w", l.name, e))
		}
		if e := l.line.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("close %s pin: %w", l.name, e))
		}
	}
	if r.chip != nil {
		if e := r.chip.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("close chip: %w", e))
		}
	}

	return err
}
