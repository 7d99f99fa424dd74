// Package clip resolves live stream URLs and extracts short video clips with
// external tools (streamlink and ffmpeg).
package clip

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Runner executes an external command with a hard timeout and returns its
// stdout. Implementations other than execRunner exist for tests.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// NewRunner returns the production Runner backed by os/exec.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s timed out after %s: %w", name, timeout, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
