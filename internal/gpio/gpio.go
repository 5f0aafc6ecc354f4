// Package gpio provides rotary encoder line access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "context"

// Reader samples the two encoder lines and waits for CLK edges.
type Reader interface {
	// Read returns the electrical levels of CLK and DT (true = high).
	Read() (clk bool, dt bool, err error)

	// WaitForEdge blocks until CLK is no longer at level clk. It returns
	// immediately if CLK has already moved away from that level, and
	// returns ctx.Err() if ctx is cancelled first.
	WaitForEdge(ctx context.Context, clk bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering).
const (
	DefaultPinCLK = 17
	DefaultPinDT  = 18
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"
