// Package config loads and validates the volume-knob configuration.
//
// The file is YAML unless its extension is .toml. Unknown keys are
// rejected in both formats so typos fail loudly at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/volume-knob/internal/display"
	"github.com/sweeney/volume-knob/internal/encoder"
	"github.com/sweeney/volume-knob/internal/gpio"
	"github.com/sweeney/volume-knob/internal/mixer"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "config.toml"

// maxPin is the highest BCM GPIO exposed on the 40-pin header.
const maxPin = 27

// Config is the top-level configuration.
type Config struct {
	ClkPin         int    `yaml:"clk_pin" toml:"clk_pin"`
	DtPin          int    `yaml:"dt_pin" toml:"dt_pin"`
	GPIOChip       string `yaml:"gpio_chip" toml:"gpio_chip"`
	Device         string `yaml:"device" toml:"device"`
	StartupVolume  int    `yaml:"startup_volume" toml:"startup_volume"`
	FallbackVolume int    `yaml:"fallback_volume" toml:"fallback_volume"`
	LoopMs         int    `yaml:"loop_ms" toml:"loop_ms"`
	FlushPending   bool   `yaml:"flush_pending" toml:"flush_pending"`
	LogLevel       string `yaml:"log_level" toml:"log_level"`

	Encoder EncoderConfig `yaml:"encoder" toml:"encoder"`
	Display DisplayConfig `yaml:"display" toml:"display"`
	Mixer   MixerConfig   `yaml:"mixer" toml:"mixer"`
	MQTT    MQTTConfig    `yaml:"mqtt" toml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
}

// EncoderConfig holds decoder bounds and timing.
type EncoderConfig struct {
	MinValue   int `yaml:"min_value" toml:"min_value"`
	MaxValue   int `yaml:"max_value" toml:"max_value"`
	DebounceUs int `yaml:"debounce_us" toml:"debounce_us"`
	ResetMs    int `yaml:"reset_ms" toml:"reset_ms"`
	SleepMs    int `yaml:"sleep_ms" toml:"sleep_ms"`
	PollUs     int `yaml:"poll_us" toml:"poll_us"`
}

// DisplayConfig holds the OLED settings.
type DisplayConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Bus            string `yaml:"bus" toml:"bus"`
	IntervalMs     int    `yaml:"interval_ms" toml:"interval_ms"`
	Format         string `yaml:"format" toml:"format"`
	StartupMessage string `yaml:"startup_message" toml:"startup_message"`
}

// MixerConfig holds the amixer settings.
type MixerConfig struct {
	Command    string `yaml:"command" toml:"command"`
	IntervalMs int    `yaml:"interval_ms" toml:"interval_ms"`
	TimeoutMs  int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// MQTTConfig holds the optional state publisher settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	Topic       string `yaml:"topic" toml:"topic"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	IntervalMs  int    `yaml:"interval_ms" toml:"interval_ms"`
	HeartbeatMs int    `yaml:"heartbeat_ms" toml:"heartbeat_ms"` // 0 disables
}

// HTTPConfig holds the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Default returns a fully-populated Config.
func Default() Config {
	return Config{
		ClkPin:         gpio.DefaultPinCLK,
		DtPin:          gpio.DefaultPinDT,
		GPIOChip:       gpio.DefaultChip,
		Device:         "default",
		StartupVolume:  100,
		FallbackVolume: mixer.DefaultFallback,
		LoopMs:         50,
		LogLevel:       "info",
		Encoder: EncoderConfig{
			MinValue:   0,
			MaxValue:   100,
			DebounceUs: int(encoder.DefaultDebounce / time.Microsecond),
			ResetMs:    int(encoder.DefaultReset / time.Millisecond),
			SleepMs:    int(encoder.DefaultSleep / time.Millisecond),
			PollUs:     100,
		},
		Display: DisplayConfig{
			Enabled:        true,
			IntervalMs:     1000,
			Format:         display.DefaultFormat,
			StartupMessage: "Volume control",
		},
		Mixer: MixerConfig{
			Command:    "amixer",
			IntervalMs: 250,
			TimeoutMs:  int(mixer.DefaultTimeout / time.Millisecond),
		},
		MQTT: MQTTConfig{
			Topic:       "audio/volume/knob",
			IntervalMs:  1000,
			HeartbeatMs: int(15 * time.Minute / time.Millisecond),
		},
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b, formatFor(path))
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte, format Format) (Config, error) {
	cfg := Default()

	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config toml: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode config yaml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	if c.ClkPin < 0 || c.ClkPin > maxPin {
		return fmt.Errorf("invalid clk_pin %d in config. Valid range (0-%d)", c.ClkPin, maxPin)
	}
	if c.DtPin < 0 || c.DtPin > maxPin {
		return fmt.Errorf("invalid dt_pin %d in config. Valid range (0-%d)", c.DtPin, maxPin)
	}
	if c.ClkPin == c.DtPin {
		return fmt.Errorf("clk_pin and dt_pin must differ (both %d)", c.ClkPin)
	}
	if c.StartupVolume < 0 || c.StartupVolume > 100 {
		return fmt.Errorf("invalid startup_volume %d in config. Valid range (0-100)", c.StartupVolume)
	}
	if c.FallbackVolume < 0 || c.FallbackVolume > 100 {
		return fmt.Errorf("invalid fallback_volume %d in config. Valid range (0-100)", c.FallbackVolume)
	}
	if c.Device == "" {
		return errors.New("device (mixer control) must not be empty")
	}
	if c.GPIOChip == "" {
		return errors.New("gpio_chip must not be empty")
	}
	if c.LoopMs <= 0 {
		return fmt.Errorf("loop_ms must be positive, got %d", c.LoopMs)
	}

	e := c.Encoder
	if e.MinValue < 0 || e.MaxValue > 100 || e.MinValue > e.MaxValue {
		return fmt.Errorf("invalid encoder range [%d,%d]. Valid range within (0-100)", e.MinValue, e.MaxValue)
	}
	if e.DebounceUs <= 0 || e.ResetMs <= 0 || e.SleepMs <= 0 {
		return errors.New("encoder debounce_us, reset_ms and sleep_ms must be positive")
	}
	if e.SleepMs <= e.ResetMs {
		return fmt.Errorf("encoder sleep_ms (%d) must be longer than reset_ms (%d)", e.SleepMs, e.ResetMs)
	}
	if e.PollUs < 0 {
		return fmt.Errorf("encoder poll_us must not be negative, got %d", e.PollUs)
	}

	if c.Display.IntervalMs < 0 || c.Mixer.IntervalMs < 0 || c.MQTT.IntervalMs < 0 {
		return errors.New("sink interval_ms must not be negative")
	}
	if c.Mixer.TimeoutMs < 0 {
		return fmt.Errorf("mixer timeout_ms must not be negative, got %d", c.Mixer.TimeoutMs)
	}
	if c.Mixer.Command == "" {
		return errors.New("mixer command must not be empty")
	}
	if c.Display.Enabled && strings.Count(c.Display.Format, "%d") != 1 {
		return fmt.Errorf("display format %q must contain exactly one %%d", c.Display.Format)
	}
	if c.MQTT.HeartbeatMs < 0 {
		return fmt.Errorf("mqtt heartbeat_ms must not be negative, got %d", c.MQTT.HeartbeatMs)
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt topic must not be empty when a broker is set")
	}
	return nil
}

// EncoderSettings converts the encoder section to decoder settings.
func (c Config) EncoderSettings() encoder.Config {
	return encoder.Config{
		Min:      c.Encoder.MinValue,
		Max:      c.Encoder.MaxValue,
		Debounce: time.Duration(c.Encoder.DebounceUs) * time.Microsecond,
		Reset:    time.Duration(c.Encoder.ResetMs) * time.Millisecond,
		Sleep:    time.Duration(c.Encoder.SleepMs) * time.Millisecond,
	}
}

// PollInterval returns the pause between encoder samples.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Encoder.PollUs) * time.Microsecond
}

// LoopInterval returns the main loop cycle budget.
func (c Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopMs) * time.Millisecond
}

// Millis converts a millisecond setting to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
