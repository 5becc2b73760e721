package intent

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("intent not found")
	ErrInvalidState = errors.New("invalid intent state")
	ErrExpired      = errors.New("intent expired")
	ErrValidation   = errors.New("invalid intent")
	ErrTimeout      = errors.New("execution outcome unknown")

	// ErrExecutionFailed matches every *ExecutionError.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrConflict is returned by a store when the intent changed since it
	// was read.
	ErrConflict = errors.New("intent modified concurrently")
)

// StateError reports an illegal transition. It matches ErrInvalidState.
type StateError struct {
	ID   string
	From Status
	To   Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("intent %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// ExecutionError wraps the executor's failure. The intent is failed.
type ExecutionError struct {
	IntentID string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing intent %s: %v", e.IntentID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Is matches ErrExecutionFailed.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
