package engine

import (
	"fmt"
	"strings"
)

// Error labels reported through StartConfig.OnError.
const (
	LabelWebcamUnavailable     = "WEBCAM_UNAVAILABLE"
	LabelInvalidSKU            = "INVALID_SKU"
	LabelPlaceholderNullWidth  = "PLACEHOLDER_NULL_WIDTH"
	LabelPlaceholderNullHeight = "PLACEHOLDER_NULL_HEIGHT"
	LabelNotReady              = "NOT_READY"
)

// Reason is the classified cause of an engine error label.
type Reason int

const (
	Unknown Reason = iota
	WebcamUnavailable
	InvalidModel
	PlaceholderNullWidth
	PlaceholderNullHeight
	NotReady
)

// Classify maps an engine label to a Reason. Unrecognised labels are
// Unknown.
func Classify(label string) Reason {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case LabelWebcamUnavailable:
		return WebcamUnavailable
	case LabelInvalidSKU:
		return InvalidModel
	case LabelPlaceholderNullWidth:
		return PlaceholderNullWidth
	case LabelPlaceholderNullHeight:
		return PlaceholderNullHeight
	case LabelNotReady:
		return NotReady
	default:
		return Unknown
	}
}

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case WebcamUnavailable:
		return "webcam_unavailable"
	case InvalidModel:
		return "invalid_model"
	case PlaceholderNullWidth:
		return "placeholder_null_width"
	case PlaceholderNullHeight:
		return "placeholder_null_height"
	case NotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// Label returns the canonical engine label, or "" for Unknown.
func (r Reason) Label() string {
	switch r {
	case WebcamUnavailable:
		return LabelWebcamUnavailable
	case InvalidModel:
		return LabelInvalidSKU
	case PlaceholderNullWidth:
		return LabelPlaceholderNullWidth
	case PlaceholderNullHeight:
		return LabelPlaceholderNullHeight
	case NotReady:
		return LabelNotReady
	default:
		return ""
	}
}

// Message returns the user-facing text. label is quoted verbatim for
// unrecognised reasons.
func (r Reason) Message(label string) string {
	switch r {
	case WebcamUnavailable:
		return "Camera access is required for virtual try-on. Please allow camera access and refresh."
	case InvalidModel:
		return "Invalid glasses model selected."
	case PlaceholderNullWidth, PlaceholderNullHeight:
		return "Display container issue. Please try refreshing the page."
	case NotReady:
		return "Virtual try-on is still initializing. Please wait a moment and try again."
	default:
		return fmt.Sprintf("Virtual try-on error: %s. Please try refreshing the page.", label)
	}
}
