// Package display renders the volume readout on a small monochrome panel.
package display

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/periph/devices/ssd1306/image1bit"
)

// DefaultFormat is the readout text; %d is the volume percent.
const DefaultFormat = "Volume: %d"

// Display is a readout that can show the current volume.
type Display interface {
	// Render replaces the screen contents with the volume readout.
	Render(percent int) error

	// ShowStartupMessage shows a one-off banner.
	ShowStartupMessage(text string) error

	// Close blanks the panel and releases the bus.
	Close() error
}

// Frame returns a blank 1-bit frame of the given bounds with text drawn
// on the first line in a 7x13 fixed font.
func Frame(bounds image.Rectangle, text string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(bounds)
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: face,
		Dot:  fixed.P(bounds.Min.X, bounds.Min.Y+face.Ascent),
	}
	d.DrawString(text)
	return img
}

// Sink adapts a Display to throttle.Sink[int].
type Sink struct {
	d Display
}

// NewSink returns a sink that renders each applied value.
func NewSink(d Display) *Sink {
	return &Sink{d: d}
}

// Apply renders percent.
func (s *Sink) Apply(percent int) error {
	if err := s.d.Render(percent); err != nil {
		return fmt.Errorf("render %d: %w", percent, err)
	}
	return nil
}
