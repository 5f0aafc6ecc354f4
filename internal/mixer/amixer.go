package mixer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single amixer invocation.
const DefaultTimeout = 2 * time.Second

// Runner runs an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec. Stderr is folded into the
// error on non-zero exit.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Amixer controls an ALSA simple mixer control through the amixer tool.
// Levels use the mapped (-M) scale so percentages track perceived loudness.
type Amixer struct {
	Command string        // defaults to "amixer"
	Control string        // e.g. "Digital" or "default"
	Timeout time.Duration // per invocation; 0 disables
	Run     Runner
}

// NewAmixer returns an Amixer for control using ExecRunner.
func NewAmixer(control string, timeout time.Duration) *Amixer {
	if control == "" {
		control = "default"
	}
	return &Amixer{
		Command: "amixer",
		Control: control,
		Timeout: timeout,
		Run:     ExecRunner,
	}
}

// Set runs `amixer set -M <control> NN%`.
func (a *Amixer) Set(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("mixer: level %d out of range", percent)
	}
	if _, err := a.run(ctx, "set", "-M", a.Control, fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("set %s: %w", a.Control, err)
	}
	return nil
}

// Get runs `amixer get <control> -M` and parses the first NN% token.
func (a *Amixer) Get(ctx context.Context) (int, error) {
	out, err := a.run(ctx, "get", a.Control, "-M")
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", a.Control, err)
	}
	v, err := ParsePercent(string(out))
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", a.Control, err)
	}
	return v, nil
}

func (a *Amixer) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	cmd := a.Command
	if cmd == "" {
		cmd = "amixer"
	}
	run := a.Run
	if run == nil {
		run = ExecRunner
	}
	return run(ctx, cmd, args...)
}
