package pool

import (
	"errors"
	"fmt"
	"strings"
)

// Common pool errors.
var (
	// ErrTooManyConnections indicates the remote end refused another
	// session. The pool treats this as transient: back off and retry.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("pool closed")
)

// TooManyConnectionsError wraps a factory error that hit the remote
// connection cap, preserving the original error for inspection.
type TooManyConnectionsError struct {
	Err error
}

// Error implements the error interface.
func (e *TooManyConnectionsError) Error() string {
	return fmt.Sprintf("too many connections: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TooManyConnectionsError) Unwrap() error {
	return e.Err
}

// IsTooManyConnections checks if an error indicates the remote end is
// out of connection slots. Well-behaved factories return
// ErrTooManyConnections or a *TooManyConnectionsError; errors from
// foreign code are matched by common indicators in the error text.
func IsTooManyConnections(err error) bool {
	if err == nil {
		return false
	}

	var tooMany *TooManyConnectionsError
	if errors.As(err, &tooMany) {
		return true
	}

	if errors.Is(err, ErrTooManyConnections) {
		return true
	}

	msg := strings.ToLower(err.Error())
	indicators := []string{
		"too many connections",
		"too many open connections",
		"connection limit",
		"421",
	}

	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}

	return false
}

// CommandFailure records a command whose execution failed after the
// retry. The pool frees the command's connection and advances the wait
// queue regardless; the failure itself is delivered on Pool.Failures.
type CommandFailure struct {
	Command    Command
	ExecutorID int64
	Err        error
}

// Error implements the error interface.
func (f *CommandFailure) Error() string {
	return fmt.Sprintf("command %s failed after retry: %v", f.Command.Name(), f.Err)
}

// Unwrap returns the underlying error.
func (f *CommandFailure) Unwrap() error {
	return f.Err
}
