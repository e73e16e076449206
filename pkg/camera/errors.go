package camera

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. A *Error matches its kind's
// sentinel with errors.Is.
var (
	ErrPermissionDenied         = errors.New("camera: permission denied")
	ErrDeviceUnavailable        = errors.New("camera: device unavailable")
	ErrConstraintsUnsatisfiable = errors.New("camera: constraints unsatisfiable")
)

// ErrorKind classifies acquisition failures.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota
	DeviceUnavailable
	ConstraintsUnsatisfiable
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceUnavailable:
		return "device_unavailable"
	case ConstraintsUnsatisfiable:
		return "constraints_unsatisfiable"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case PermissionDenied:
		return ErrPermissionDenied
	case ConstraintsUnsatisfiable:
		return ErrConstraintsUnsatisfiable
	default:
		return ErrDeviceUnavailable
	}
}

// Error is returned by Guard.Acquire and by devices.
type Error struct {
	Kind   ErrorKind
	Device string
	Err    error
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, device string, err error) *Error {
	return &Error{Kind: kind, Device: device, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Device != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Device)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf extracts the failure kind from any error chain. Errors that are
// not camera errors count as DeviceUnavailable.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return PermissionDenied
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		return ConstraintsUnsatisfiable
	default:
		return DeviceUnavailable
	}
}
