package gpio

import (
	"context"
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted encoder levels.
// It is safe to inspect from a test goroutine while a poller runs.
type FakeReader struct {
	// Samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// ReadError, if set, will be returned by Read()
	ReadError error

	// WaitError, if set, will be returned by WaitForEdge()
	WaitError error

	// Edges releases a blocked WaitForEdge, one send per edge.
	Edges chan struct{}

	mu     sync.Mutex
	index  int
	reads  int
	waits  int
	closed bool
}

// Sample represents a single reading of both lines (true = high).
type Sample struct {
	CLK bool
	DT  bool
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []Sample) *FakeReader {
	return &FakeReader{
		Samples: samples,
		Edges:   make(chan struct{}),
	}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.ReadError != nil {
		return false, false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample.CLK, sample.DT, nil
}

// WaitForEdge returns at once if the next scripted CLK level differs from
// clk; otherwise it blocks until something is sent on Edges.
func (f *FakeReader) WaitForEdge(ctx context.Context, clk bool) error {
	f.mu.Lock()
	f.waits++
	err := f.WaitError
	moved := len(f.Samples) > 0 && f.Samples[f.index].CLK != clk
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if moved {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.Edges:
		return nil
	}
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Reads returns the number of Read calls so far.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Waits returns the number of WaitForEdge calls so far.
func (f *FakeReader) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
