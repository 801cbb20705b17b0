package engine

import (
	"errors"
	"fmt"
)

// Sentinel error kinds an API consumer can match with errors.Is. The
// typed errors below unwrap to them; DriverError also unwraps to the
// driver's own error, so callers can drill into the cause without the
// taxonomy collapsing to a single opaque type.
var (
	// ErrInvalidState is returned when a control operation is called
	// from a state that does not permit it.
	ErrInvalidState = errors.New("engine: operation not valid in current state")

	// ErrUnsupported is returned when a requested sample rate, buffer
	// size or channel set is rejected by the driver or the engine's
	// own validation.
	ErrUnsupported = errors.New("engine: requested configuration is not supported")

	// ErrDriver is returned when the underlying driver reports failure
	// from a control operation. During cleanup this condition is
	// downgraded to a warning instead of being returned to the caller.
	ErrDriver = errors.New("engine: driver operation failed")
)

// StateError reports that op was attempted while the engine was in a
// state that does not permit it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("engine: %s: invalid in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// UnsupportedError reports that a requested configuration value was
// rejected.
type UnsupportedError struct {
	Op     string
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("engine: %s: unsupported: %s", e.Op, e.Reason)
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }

// DriverError wraps a failure returned by the Driver implementation.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("engine: driver: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the ErrDriver sentinel and the underlying driver
// error to errors.Is/errors.As.
func (e *DriverError) Unwrap() []error { return []error{ErrDriver, e.Err} }

// FatalError is delivered to the OnFatalError observer when a worker
// thread catches an unexpected error from client code or the driver. It
// is never returned synchronously from a control operation.
type FatalError struct {
	Source string // "processing", "done", "driver-callback"
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("engine: fatal error in %s: %v", e.Source, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
