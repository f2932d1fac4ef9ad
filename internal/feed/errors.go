package feed

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotInitialized     = errors.New("feed not initialized")
	ErrAlreadyInitialized = errors.New("feed already initialized")
	ErrAlreadyRunning     = errors.New("feed already running")
)

// UnexpectedLoopError reports a fault inside the loop. The Runner is left
// in StateFaulted.
type UnexpectedLoopError struct {
	Cause error
	Stack []byte // Set when the fault was a panic
}

func (e *UnexpectedLoopError) Error() string {
	return fmt.Sprintf("unexpected error in feed loop: %v", e.Cause)
}

func (e *UnexpectedLoopError) Unwrap() error {
	return e.Cause
}
