package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"ucode/internal/logging"
)

// =============================================================================
// SHELL EXECUTION
// =============================================================================

// ShellExecutor runs a validated shell command directly on the host via
// os/exec. Commands run argv-style, never through an interpreter, so the
// validator's compound-token rejection cannot be bypassed here.
type ShellExecutor struct {
	timeout   time.Duration
	maxOutput int64
}

// ExecResult is the captured outcome of one shell command.
type ExecResult struct {
	ExitCode  int
	Output    string
	Truncated bool
	Killed    bool
}

// NewShellExecutor creates an executor with the given per-command timeout.
func NewShellExecutor(timeout time.Duration) *ShellExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShellExecutor{timeout: timeout, maxOutput: 64 * 1024}
}

// IsShellCandidate reports whether the first token of the input resolves
// to an executable on PATH.
func IsShellCandidate(input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

// Run executes the command and captures combined output, bounded by the
// executor's output cap and timeout.
func (e *ShellExecutor) Run(ctx context.Context, command string) (ExecResult, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ExecResult{}, fmt.Errorf("empty command")
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var buf bytes.Buffer
	limited := &limitedWriter{w: &buf, max: e.maxOutput}

	cmd := exec.CommandContext(execCtx, fields[0], fields[1:]...)
	cmd.Stdout = limited
	cmd.Stderr = limited

	logging.Shell("executing: %s", command)
	err := cmd.Run()

	result := ExecResult{
		Output:    strings.TrimRight(buf.String(), "\n"),
		Truncated: limited.truncated,
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			result.Killed = true
			result.ExitCode = -1
			logging.Shell("killed after %s: %s", e.timeout, command)
			return result, fmt.Errorf("command timed out after %s", e.timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// The command ran; a non-zero exit is data, not a dispatch failure.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to start command: %w", err)
	}

	return result, nil
}

// limitedWriter caps total bytes written, discarding the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	if lw.written+int64(n) > lw.max {
		p = p[:lw.max-lw.written]
		lw.truncated = true
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return n, err
}
