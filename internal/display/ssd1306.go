package display

import (
	"fmt"
	"image"
	"io"

	"go.uber.org/multierr"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/devices/ssd1306"
	"periph.io/x/periph/host"
)

// panel is the part of *ssd1306.Dev the readout uses.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// SSD1306 drives a 128x64 SSD1306 OLED over I2C.
type SSD1306 struct {
	bus    io.Closer
	dev    panel
	format string
}

// NewSSD1306 initializes the host drivers, opens the I2C bus (empty name
// picks the first bus) and clears the panel. Any failure here is fatal to
// the caller.
func NewSSD1306(busName, format string) (*SSD1306, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.Opts{W: 128, H: 64})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("init ssd1306: %w", err)
	}

	if format == "" {
		format = DefaultFormat
	}
	d := &SSD1306{bus: bus, dev: dev, format: format}
	if err := d.show(""); err != nil {
		d.Close()
		return nil, fmt.Errorf("clear ssd1306: %w", err)
	}
	return d, nil
}

// Render draws the volume readout. On failure the previous frame stays on
// the panel.
func (d *SSD1306) Render(percent int) error {
	return d.show(fmt.Sprintf(d.format, percent))
}

// ShowStartupMessage draws text in place of the readout.
func (d *SSD1306) ShowStartupMessage(text string) error {
	return d.show(text)
}

func (d *SSD1306) show(text string) error {
	bounds := d.dev.Bounds()
	if err := d.dev.Draw(bounds, Frame(bounds, text), image.Point{}); err != nil {
		return fmt.Errorf("flush ssd1306: %w", err)
	}
	return nil
}

// Close turns the panel off and closes the bus. The bus is closed even
// if the panel does not halt.
func (d *SSD1306) Close() error {
	var err error
	if e := d.dev.Halt(); e != nil {
		err = multierr.Append(err, fmt.Errorf("halt ssd1306: %w", e))
	}
	if e := d.bus.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("close i2c bus: %w", e))
	}
	return err
}
