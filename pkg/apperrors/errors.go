// Package apperrors defines the error taxonomy shared by the stores, the
// backup invoker and the archive catalog.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrInvocation matches any *InvocationError via errors.Is.
	ErrInvocation = errors.New("invocation failed")
	// ErrConfigIO matches any *ConfigIOError via errors.Is.
	ErrConfigIO = errors.New("config I/O failed")
)

// ConfigIOError reports that a persisted configuration file could not be
// read or written.
type ConfigIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigIOError) Error() string {
	return fmt.Sprintf("failed to %s config file %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigIOError) Unwrap() error { return e.Err }

func (e *ConfigIOError) Is(target error) bool { return target == ErrConfigIO }

// InvocationError reports that an external procedure failed or could not be
// started. ExitCode is -1 when the process never ran to completion.
type InvocationError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *InvocationError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s could not be run: %v", e.Command, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

// NotFoundError reports a reference to an archive or database that does not
// exist.
type NotFoundError struct {
	Kind string
	Name string
}

// NotFound returns a *NotFoundError for the given kind and name.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
