package fwbuild

import (
	"errors"
	"fmt"
	"time"
)

// Predefined error types for robust error handling
var (
	ErrInvalidReference  = errors.New("reference does not resolve to an existing resource")
	ErrLockTimeout       = errors.New("timed out waiting for resource lock")
	ErrPortBusy          = errors.New("serial port is busy")
	ErrNotLockHolder     = errors.New("lock is not held by this request")
	ErrInvalidTransition = errors.New("invalid port state transition")
	ErrNoArtifact        = errors.New("no build artifact available for deploy")
	ErrNoPortsFound      = errors.New("no serial ports found")
	ErrInvalidTimeout    = errors.New("invalid timeout")
	ErrInvalidConfig     = errors.New("invalid coordinator configuration")

	// Collaborator errors
	ErrBuildFailed          = errors.New("firmware build failed")
	ErrDeployFailed         = errors.New("firmware deploy failed")
	ErrMonitorClosed        = errors.New("monitor session closed")
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")

	// Persistence errors
	ErrStateDirUnavailable = errors.New("lock state directory unavailable")
)

// LockTimeoutError is returned when a lock cannot be acquired within the
// configured timeout. It wraps ErrLockTimeout so callers can use errors.Is,
// and carries enough detail for the conflict reporter.
type LockTimeoutError struct {
	Key        string
	Holder     string
	QueueDepth int
	Waited     time.Duration
}

func (e *LockTimeoutError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("timed out after %s waiting for lock on %s", e.Waited.Round(time.Millisecond), e.Key)
	}
	return fmt.Sprintf("timed out after %s waiting for lock on %s (held by %s, %d queued)",
		e.Waited.Round(time.Millisecond), e.Key, e.Holder, e.QueueDepth)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// PortBusyError is returned when a port cannot be taken for deploy/monitor
// because another request occupies it. Same contention class as
// LockTimeoutError, but about occupancy rather than the raw lock.
type PortBusyError struct {
	Port      PortKey
	Holder    string
	Occupancy Occupancy
	Waited    time.Duration
}

func (e *PortBusyError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("port %s is busy (%s)", e.Port, e.Occupancy)
	}
	return fmt.Sprintf("port %s is busy: %s by %s", e.Port, e.Occupancy, e.Holder)
}

func (e *PortBusyError) Unwrap() error { return ErrPortBusy }

// InvalidTransitionError reports a rejected port occupancy transition.
// This indicates a coordinator bug or stale state, never user error.
type InvalidTransitionError struct {
	Port   PortKey
	From   Occupancy
	To     Occupancy
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s on %s: %s", e.From, e.To, e.Port, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
