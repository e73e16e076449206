// Package camera acquires and releases camera streams for the selfie
// capture step and the try-on engine.
//
// A Guard owns at most one Stream at a time. Acquiring again releases the
// previous stream first, and Release/Close are idempotent so owners can
// defer them on every exit path.
package camera

import "fmt"

// FacingMode selects which physical camera to use.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
	FacingAny         FacingMode = ""
)

// Constraints describes the stream a consumer asks for. Width, Height and
// Framerate are ideals; a device may deliver something close. Exact
// makes them hard requirements.
type Constraints struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Framerate  int        `json:"framerate"`
	FacingMode FacingMode `json:"facing_mode"`
	Exact      bool       `json:"exact"`

	// DeviceIndex picks a device on backends that enumerate by index.
	DeviceIndex int `json:"device_index"`
}

// Sensor-independent bounds accepted by Validate.
const (
	MinWidth     = 160
	MinHeight    = 120
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
)

// DefaultConstraints returns the selfie capture request: 1280x720 ideal,
// front-facing.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:      1280,
		Height:     720,
		Framerate:  30,
		FacingMode: FacingUser,
	}
}

// Validate checks if the values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c Constraints) Validate() []string {
	var errs []string

	if c.Width < MinWidth || c.Width > MaxWidth {
		errs = append(errs, fmt.Sprintf("width must be between %d and %d", MinWidth, MaxWidth))
	}
	if c.Height < MinHeight || c.Height > MaxHeight {
		errs = append(errs, fmt.Sprintf("height must be between %d and %d", MinHeight, MaxHeight))
	}
	if c.Framerate < 0 || c.Framerate > MaxFramerate {
		errs = append(errs, fmt.Sprintf("framerate must be between 0 and %d", MaxFramerate))
	}
	switch c.FacingMode {
	case FacingUser, FacingEnvironment, FacingAny:
	default:
		errs = append(errs, "facing_mode must be user, environment, or empty")
	}
	if c.DeviceIndex < 0 {
		errs = append(errs, "device_index must be >= 0")
	}

	return errs
}

// Resolution returns "WxH".
func (c Constraints) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}
