// Package runner executes external programs such as the backup script and
// the SMB mount helper and captures their output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/supporttools/GoSQLConsole/pkg/apperrors"
)

// waitDelay bounds how long Run waits for output pipes after the process
// exits or is killed.
const waitDelay = 5 * time.Second

// Command describes one invocation.
type Command struct {
	Path string
	Args []string
	// Env is appended to the current process environment.
	Env []string
}

// Output is the captured outcome of a Command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	// Err is nil on exit code 0, otherwise an *apperrors.InvocationError.
	Err error
}

// Success reports whether the command exited with code 0.
func (o Output) Success() bool {
	return o.Err == nil
}

// Diagnostic returns the text describing a failure: stderr when present,
// otherwise the error itself.
func (o Output) Diagnostic() string {
	if msg := strings.TrimSpace(o.Stderr); msg != "" {
		return msg
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return ""
}

// Run executes cmd and waits for it. It never returns an error directly;
// failures are reported through Output.Err.
func Run(ctx context.Context, cmd Command) Output {
	start := time.Now()
	name := filepath.Base(cmd.Path)

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.WaitDelay = waitDelay
	killProcessGroup(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return out
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		out.ExitCode = -1
		out.Err = &apperrors.InvocationError{Command: name, ExitCode: -1, Err: ctx.Err()}
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		out.Err = &apperrors.InvocationError{Command: name, ExitCode: out.ExitCode, Err: err}
	default:
		out.ExitCode = -1
		out.Err = &apperrors.InvocationError{Command: name, ExitCode: -1, Err: err}
	}
	return out
}
