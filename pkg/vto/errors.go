package vto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-tryon/pkg/engine"
)

// Sentinel errors, one per ErrorKind. A *Failure matches its kind's
// sentinel with errors.Is.
var (
	ErrLibraryLoadFailed       = errors.New("vto: library load failed")
	ErrReadinessTimeout        = errors.New("vto: readiness timeout")
	ErrEngineStart             = errors.New("vto: engine start error")
	ErrCameraAcquisitionFailed = errors.New("vto: camera acquisition failed")
)

// ErrorKind is the closed set of failure classes.
type ErrorKind int

const (
	LibraryLoadFailed ErrorKind = iota
	ReadinessTimeout
	EngineStartError
	CameraAcquisitionFailed
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case LibraryLoadFailed:
		return "library_load_failed"
	case ReadinessTimeout:
		return "readiness_timeout"
	case EngineStartError:
		return "engine_start_error"
	case CameraAcquisitionFailed:
		return "camera_acquisition_failed"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case LibraryLoadFailed:
		return ErrLibraryLoadFailed
	case ReadinessTimeout:
		return ErrReadinessTimeout
	case CameraAcquisitionFailed:
		return ErrCameraAcquisitionFailed
	default:
		return ErrEngineStart
	}
}

// Failure is the payload of the Error state.
type Failure struct {
	Kind ErrorKind

	// Reason and Label are set for EngineStartError. Label is the raw
	// engine label; it is empty when Start itself failed.
	Reason engine.Reason
	Label  string

	Err error
}

// Error implements the error interface.
func (e *Failure) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Kind == EngineStartError && e.Label != "" {
		msg += " (" + e.Label + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Failure) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Failure) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Message returns the plain-language text shown to the user.
func (e *Failure) Message() string {
	switch e.Kind {
	case LibraryLoadFailed:
		return "Failed to load virtual try-on library. Please refresh the page."
	case ReadinessTimeout:
		return "Virtual try-on library is taking too long to initialize. Please try again."
	case CameraAcquisitionFailed:
		return "Camera access is required for virtual try-on. Please allow camera access and refresh."
	}
	if e.Label == "" && e.Reason == engine.Unknown {
		return "Failed to initialize virtual try-on. Please refresh the page and try again."
	}
	return e.Reason.Message(e.Label)
}

// MarshalJSON renders the error for observers.
func (e *Failure) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind    string `json:"kind"`
		Reason  string `json:"reason,omitempty"`
		Label   string `json:"label,omitempty"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	}{
		Kind:    e.Kind.String(),
		Label:   e.Label,
		Message: e.Message(),
	}
	if e.Kind == EngineStartError {
		out.Reason = e.Reason.String()
	}
	if e.Err != nil {
		out.Detail = e.Err.Error()
	}
	return json.Marshal(out)
}

func newError(kind ErrorKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func engineLabelError(label string) *Failure {
	return &Failure{
		Kind:   EngineStartError,
		Reason: engine.Classify(label),
		Label:  label,
	}
}

func guardError(reason engine.Reason) *Failure {
	return &Failure{
		Kind:   EngineStartError,
		Reason: reason,
		Label:  reason.Label(),
		Err:    fmt.Errorf("surface %s", reason),
	}
}

// KindOf returns the kind of err if it is, or wraps, a *Failure.
func KindOf(err error) (ErrorKind, bool) {
	var e *Failure
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
