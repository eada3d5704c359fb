package location

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is delivered when the timeout fires before any position was received.
	ErrTimeout = errors.New("no position received before timeout")
	// ErrSessionActive is returned by Start while a previous run is still in flight.
	ErrSessionActive = errors.New("location session already active")
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrSessionClosed is returned by Start once the session has been closed.
	ErrSessionClosed = errors.New("location session closed")
)

// ProviderStartError wraps a failure to start the provider (permission denied, no hardware).
type ProviderStartError struct {
	Err error
}

func (e *ProviderStartError) Error() string {
	return fmt.Sprintf("starting location provider: %v", e.Err)
}

func (e *ProviderStartError) Unwrap() error { return e.Err }

// ProviderRuntimeError wraps an error reported by a running provider.
type ProviderRuntimeError struct {
	Err error
}

func (e *ProviderRuntimeError) Error() string {
	return fmt.Sprintf("location provider failed: %v", e.Err)
}

func (e *ProviderRuntimeError) Unwrap() error { return e.Err }
