// Package mixer controls the system audio mixer level.
// The real implementation shells out to amixer; FakeMixer is for tests.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DefaultFallback is the level assumed when the mixer cannot be read.
const DefaultFallback = 50

// ErrNoPercent is returned when mixer output has no NN% token.
var ErrNoPercent = errors.New("mixer: no percentage in output")

var percentRe = regexp.MustCompile(`(\d+)%`)

// Mixer is the capability the volume loop needs from an audio mixer.
type Mixer interface {
	// Set applies a level in percent (0-100).
	Set(ctx context.Context, percent int) error

	// Get returns the live level in percent.
	Get(ctx context.Context) (int, error)
}

// ParsePercent extracts the first NN% token from mixer output.
func ParsePercent(out string) (int, error) {
	m := percentRe.FindStringSubmatch(out)
	if m == nil {
		return 0, ErrNoPercent
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", m[0], err)
	}
	if v > 100 {
		return 0, fmt.Errorf("mixer: level %d%% out of range", v)
	}
	return v, nil
}

// StartupVolume reads the live mixer level, capped at ceiling so startup
// never exceeds the configured volume. A live level above the ceiling is
// written back as the ceiling. If the mixer cannot be read or its output
// cannot be parsed, it logs one warning and returns fallback (also capped
// at ceiling) without touching the mixer.
//
// applied reports whether the mixer is known to be at the returned level.
func StartupVolume(ctx context.Context, m Mixer, ceiling, fallback int, log logrus.FieldLogger) (level int, applied bool) {
	v, err := m.Get(ctx)
	if err != nil {
		log.WithError(err).Warnf("failed to read mixer volume, defaulting to %d%%", min(fallback, ceiling))
		return min(fallback, ceiling), false
	}
	if v <= ceiling {
		return v, true
	}
	if err := m.Set(ctx, ceiling); err != nil {
		log.WithError(err).Warnf("failed to cap mixer volume at %d%%", ceiling)
		return ceiling, false
	}
	log.Infof("mixer volume %d%% above startup ceiling, set to %d%%", v, ceiling)
	return ceiling, true
}

// Sink adapts a Mixer to throttle.Sink[int].
type Sink struct {
	ctx context.Context
	m   Mixer
}

// NewSink returns a sink that calls m.Set with ctx.
func NewSink(ctx context.Context, m Mixer) *Sink {
	return &Sink{ctx: ctx, m: m}
}

// Apply sets the mixer level.
func (s *Sink) Apply(percent int) error {
	return s.m.Set(s.ctx, percent)
}
