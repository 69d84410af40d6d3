package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// RunError carries the converter invocation context for logs.
type RunError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *RunError) Error() string {
	tail := e.Stderr
	if len(tail) > 400 {
		tail = tail[len(tail)-400:]
	}
	return fmt.Sprintf("converter %s failed: %v: %s", strings.Join(e.Args, " "), e.Err, tail)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// runCommand executes an external converter bound to ctx and captures
// stderr. The command is expected to read args[0] and write args[1].
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Prefer the context error so timeouts classify as STAGE_TIMEOUT.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RunError{
			Args:   append([]string{name}, args...),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// commandExitCode extracts the converter's exit code, or -1 when the
// process never ran or was killed.
func commandExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
