package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated is returned by operations on a terminated bridge.
	ErrTerminated = errors.New("bridge: terminated")

	// ErrReleased is returned when reading through a buffer whose owning
	// handle has been released.
	ErrReleased = errors.New("bridge: handle released")

	// ErrAlreadyInitialized is returned by Initialize while a default bridge
	// is live.
	ErrAlreadyInitialized = errors.New("bridge: already initialized")
)

// ValidationError occurs when a caller contract is violated: a length
// mismatch, a wrong element type or an out-of-range index.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// TypeMismatchError occurs when an expected element type conflicts with a
// value's declared element type. It unwraps to a ValidationError.
type TypeMismatchError struct {
	Op       string
	Expected ElementType
	Actual   ElementType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: element type mismatch: expected %s, got %s", e.Op, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Unwrap() error {
	return &ValidationError{
		Op:      e.Op,
		Message: fmt.Sprintf("element type mismatch: expected %s, got %s", e.Expected, e.Actual),
	}
}

// NativeComputationError occurs when a native entry point reports a non-zero
// status code. Its message is the diagnostic registered for the code.
type NativeComputationError struct {
	EntryPoint string
	Code       uint32
	Message    string

	// Err is set when the diagnostic lookup itself failed.
	Err error
}

func (e *NativeComputationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("native error code %d (message lookup failed: %v)", e.Code, e.Err)
	}
	return fmt.Sprintf("native error code %d", e.Code)
}

func (e *NativeComputationError) Unwrap() error {
	return e.Err
}

// OutOfMemoryError occurs when the arena cannot grow to satisfy an
// allocation.
type OutOfMemoryError struct {
	Requested uint64
	Committed uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("arena out of memory: requested %d bytes with %d bytes committed",
		e.Requested, e.Committed)
}

// StaleViewError occurs when an arena view captured before a growth of the
// arena is read after it.
type StaleViewError struct {
	Captured uint64
	Current  uint64
}

func (e *StaleViewError) Error() string {
	return fmt.Sprintf("stale arena view: captured at epoch %d, arena is at epoch %d",
		e.Captured, e.Current)
}
