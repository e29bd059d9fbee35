package refresh

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ExecRunner invokes the refresh job binary, capturing combined output.
// The context deadline kills the process; a timed-out job is never left
// running.
type ExecRunner struct {
	Timeout time.Duration
}

func NewExecRunner(timeout time.Duration) ExecRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return ExecRunner{Timeout: timeout}
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("job timed out after %s", r.Timeout)
	}
	if err != nil {
		return string(out), fmt.Errorf("job failed: %w", err)
	}
	return string(out), nil
}
