package mixer

import "context"

// FakeMixer records Set calls and returns a scripted level from Get.
type FakeMixer struct {
	// SetCalls contains every level passed to a successful Set.
	SetCalls []int

	// SetError, if set, will be returned by Set.
	SetError error

	// Volume is returned by Get and updated by Set.
	Volume int

	// GetError, if set, will be returned by Get.
	GetError error

	// GetCalls counts calls to Get.
	GetCalls int
}

// NewFakeMixer creates a FakeMixer reporting volume.
func NewFakeMixer(volume int) *FakeMixer {
	return &FakeMixer{Volume: volume}
}

// Set records the level.
func (f *FakeMixer) Set(_ context.Context, percent int) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.SetCalls = append(f.SetCalls, percent)
	f.Volume = percent
	return nil
}

// Get returns Volume or GetError.
func (f *FakeMixer) Get(_ context.Context) (int, error) {
	f.GetCalls++
	if f.GetError != nil {
		return 0, f.GetError
	}
	return f.Volume, nil
}
