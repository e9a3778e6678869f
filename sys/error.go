// Package sys includes constants and interfaces used by both end-users and
// internal implementations that are not specific to WebAssembly.
package sys

import (
	"context"
	"fmt"
)

// ExitCodeDeadlineExceeded is the exit code reserved for a context.Context
// that ended due to a timeout. The runtime does not watch contexts, so it
// never closes a module with this code itself.
const ExitCodeDeadlineExceeded = uint32(252)

// ExitCodeContextCanceled is the exit code reserved for a context.Context
// that ended due to an explicit cancellation. The runtime does not watch
// contexts, so it never closes a module with this code itself.
const ExitCodeContextCanceled = uint32(253)

// ExitError is returned to a caller of api.Function when a module exits via
// a function such as "proc_exit", or has been closed with an exit code.
type ExitError struct {
	exitCode uint32
}

// NewExitError returns an ExitError with the given exit code.
func NewExitError(exitCode uint32) *ExitError {
	return &ExitError{exitCode: exitCode}
}

// ExitCode returns the exit code, zero on success.
func (e *ExitError) ExitCode() uint32 {
	return e.exitCode
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	switch e.exitCode {
	case ExitCodeDeadlineExceeded:
		return "module closed with context deadline exceeded"
	case ExitCodeContextCanceled:
		return "module closed with context canceled"
	default:
		return fmt.Sprintf("module closed with exit_code(%d)", e.exitCode)
	}
}

// Is allows matching via errors.Is, including to context.DeadlineExceeded
// and context.Canceled for the reserved exit codes above.
func (e *ExitError) Is(target error) bool {
	switch target {
	case context.DeadlineExceeded:
		return e.exitCode == ExitCodeDeadlineExceeded
	case context.Canceled:
		return e.exitCode == ExitCodeContextCanceled
	}
	if o, ok := target.(*ExitError); ok {
		return o.exitCode == e.exitCode
	}
	return false
}
