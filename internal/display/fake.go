package display

import "fmt"

// FakeDisplay records what would have been shown.
type FakeDisplay struct {
	// Rendered contains every value passed to a successful Render.
	Rendered []int

	// Messages contains startup messages.
	Messages []string

	// Text is the text of the last frame shown.
	Text string

	// RenderError, if set, will be returned by Render.
	RenderError error

	// Closed tracks if Close was called.
	Closed bool

	format string
}

// NewFakeDisplay creates a FakeDisplay using DefaultFormat.
func NewFakeDisplay() *FakeDisplay {
	return &FakeDisplay{format: DefaultFormat}
}

// Render records percent.
func (f *FakeDisplay) Render(percent int) error {
	if f.RenderError != nil {
		return f.RenderError
	}
	f.Rendered = append(f.Rendered, percent)
	f.Text = fmt.Sprintf(f.format, percent)
	return nil
}

// ShowStartupMessage records text.
func (f *FakeDisplay) ShowStartupMessage(text string) error {
	f.Messages = append(f.Messages, text)
	f.Text = text
	return nil
}

// Close marks the display as closed.
func (f *FakeDisplay) Close() error {
	f.Closed = true
	return nil
}
