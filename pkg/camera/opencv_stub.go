//go:build !opencv

package camera

import (
	"fmt"
	"log/slog"
)

// newOpenCVDevice returns an error when built without the opencv tag.
func newOpenCVDevice(logger *slog.Logger) (Device, error) {
	return nil, fmt.Errorf("opencv camera backend requires building with -tags opencv")
}
