// Package face checks selfies for a usable face before they feed the
// recommendation flow.
package face

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when no detector backend is compiled in.
var ErrUnavailable = errors.New("face: detector unavailable")

// Detection is a detected face in normalized coordinates.
type Detection struct {
	X, Y       float64 // top-left corner (0-1)
	W, H       float64 // size (0-1)
	Confidence float64 // 0-1
}

// Center returns the center point of the detection.
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box.
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Detector finds faces in JPEG images.
type Detector interface {
	Detect(jpeg []byte) ([]Detection, error)
	Close() error
}

// Config holds detector configuration.
type Config struct {
	ModelPath        string  // ONNX model
	ConfidenceThresh float64 // minimum score kept
	InputWidth       int
	InputHeight      int
}

// DefaultConfig returns YuNet defaults.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("face: model path required")
	}
	if c.ConfidenceThresh < 0 || c.ConfidenceThresh > 1 {
		return fmt.Errorf("face: confidence threshold %.2f out of range", c.ConfidenceThresh)
	}
	return nil
}

// SelectBest picks the most prominent face, scoring
// confidence*0.7 + relative area*0.3.
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection
	for i := range dets {
		score := dets[i].Confidence * 0.7
		if maxArea > 0 {
			score += (dets[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}
	return best
}

// MinFaceArea is the smallest face, as a share of the frame, that still
// works for fitting recommendations.
const MinFaceArea = 0.04

// Verdict summarizes a selfie check.
type Verdict struct {
	Faces int        `json:"faces"`
	Best  *Detection `json:"best,omitempty"`
	OK    bool       `json:"ok"`
	Hint  string     `json:"hint,omitempty"`
}

// Judge turns detections into a verdict with a user hint.
func Judge(dets []Detection) Verdict {
	v := Verdict{Faces: len(dets), Best: SelectBest(dets)}
	switch {
	case v.Best == nil:
		v.Hint = "No face detected. Center your face in the frame and try again."
	case v.Faces > 1:
		v.Hint = "Multiple faces detected. Make sure only you are in the frame."
	case v.Best.Area() < MinFaceArea:
		v.Hint = "Move closer to the camera."
	default:
		v.OK = true
	}
	return v
}
