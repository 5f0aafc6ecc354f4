// Package latest provides a single-slot channel that only ever delivers
// the most recent value sent.
package latest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Recv once the producer has closed the channel
// and no value is pending.
var ErrClosed = errors.New("latest: channel closed")

// ErrTimeout is returned by RecvTimeout when no value arrives in time.
var ErrTimeout = errors.New("latest: receive timed out")

// Stats counts values passed through the channel.
type Stats struct {
	Sent       int // values handed to Send
	Superseded int // values overwritten before the consumer saw them
}

// Chan is a mailbox for one producer and one consumer. Send never blocks;
// an unconsumed value is overwritten by the next one.
type Chan[T any] struct {
	mu      sync.Mutex
	value   T
	pending bool
	closed  bool
	stats   Stats

	// notify has capacity 1 and is signalled on every Send and on Close.
	notify chan struct{}
}

// New creates an empty channel.
func New[T any]() *Chan[T] {
	return &Chan[T]{notify: make(chan struct{}, 1)}
}

// Send stores v as the newest value. Sending on a closed channel is a no-op.
func (c *Chan[T]) Send(v T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.pending {
		c.stats.Superseded++
	}
	c.value = v
	c.pending = true
	c.stats.Sent++
	c.mu.Unlock()

	c.signal()
}

// Close marks the producer as gone. A value sent before Close is still
// delivered. Close may be called more than once.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.signal()
}

func (c *Chan[T]) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// take must be called with mu held.
func (c *Chan[T]) take() (T, bool) {
	var zero T
	if !c.pending {
		return zero, false
	}
	v := c.value
	c.value = zero
	c.pending = false
	return v, true
}

// Recv returns the newest value, blocking until one is sent.
// It returns ErrClosed if the channel is closed with nothing pending,
// or ctx.Err() if ctx is cancelled first.
func (c *Chan[T]) Recv(ctx context.Context) (T, error) {
	return c.recv(ctx, nil)
}

// RecvTimeout is Recv bounded by d. It returns ErrTimeout if nothing
// arrives within d.
func (c *Chan[T]) RecvTimeout(ctx context.Context, d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return c.recv(ctx, timer.C)
}

func (c *Chan[T]) recv(ctx context.Context, timeout <-chan time.Time) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		if v, ok := c.take(); ok {
			c.mu.Unlock()
			return v, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timeout:
			return zero, ErrTimeout
		case <-c.notify:
		}
	}
}

// Stats returns a snapshot of the channel counters.
func (c *Chan[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
