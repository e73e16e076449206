package camera

import (
	"context"
	"fmt"
	"log/slog"
)

// Device opens camera streams. Implementations return a *Error (or an error
// wrapping one of the package sentinels) so callers can tell a refused
// permission from a missing device.
type Device interface {
	// Open starts the device with the given constraints and returns the
	// live tracks. Callers stop them through the owning Guard.
	Open(ctx context.Context, c Constraints) ([]Track, error)

	// Name identifies the backend.
	Name() string
}

// Backend selects a Device implementation.
type Backend string

const (
	BackendMock   Backend = "mock"
	BackendOpenCV Backend = "opencv"
)

// NewDevice creates a device for the named backend. The OpenCV backend is
// only available in builds with the opencv tag.
func NewDevice(backend Backend, logger *slog.Logger) (Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating camera device", "backend", backend)

	switch backend {
	case BackendMock, "":
		return NewMockDevice(logger), nil
	case BackendOpenCV:
		return newOpenCVDevice(logger)
	default:
		return nil, fmt.Errorf("unsupported camera backend: %s", backend)
	}
}
