// Package capture takes the selfie that opens the shopping flow. It is a
// camera consumer in its own right: it holds at most one stream, stops it
// as soon as the still is taken, and degrades to a placeholder image when
// the camera cannot be opened.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/face"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// PlaceholderSelfie stands in for the selfie when no camera is available.
const PlaceholderSelfie = "/placeholder.svg?height=400&width=300"

var (
	// ErrNotStarted is returned by Snap when the camera is not running.
	ErrNotStarted = errors.New("capture: camera not started")

	// ErrStopped is returned by Start when Stop ran while the camera was
	// opening.
	ErrStopped = errors.New("capture: stopped while starting")
)

// Photo is a captured selfie.
type Photo struct {
	DataURL     string        `json:"data_url"`
	JPEG        []byte        `json:"-"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Placeholder bool          `json:"placeholder"`
	Faces       *face.Verdict `json:"faces,omitempty"`
	CapturedAt  time.Time     `json:"captured_at"`
}

// Placeholder returns the fallback photo.
func Placeholder() Photo {
	return Photo{DataURL: PlaceholderSelfie, Placeholder: true, CapturedAt: time.Now()}
}

// FromJPEG wraps an uploaded image.
func FromJPEG(b []byte) Photo {
	return Photo{
		DataURL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b),
		JPEG:       b,
		CapturedAt: time.Now(),
	}
}

// Capturer drives the camera for the selfie step.
type Capturer struct {
	guard       *camera.Guard
	constraints camera.Constraints
	detector    face.Detector
	logger      *slog.Logger

	mu     sync.Mutex
	stream *camera.Stream
	stops  uint64
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithConstraints overrides the selfie constraints.
func WithConstraints(c camera.Constraints) Option {
	return func(cp *Capturer) { cp.constraints = c }
}

// WithDetector checks captured stills for a usable face.
func WithDetector(d face.Detector) Option {
	return func(cp *Capturer) { cp.detector = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cp *Capturer) {
		if l != nil {
			cp.logger = l
		}
	}
}

// New creates a capturer over guard. The guard must not be shared with a
// try-on session.
func New(guard *camera.Guard, opts ...Option) *Capturer {
	c := &Capturer{
		guard:       guard,
		constraints: camera.DefaultConstraints(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "capture")
	return c
}

// Start opens the camera. On failure it returns a CameraAcquisitionFailed
// error and holds no stream. The device is opened without holding the
// capturer lock; a Stop that lands meanwhile wins and the new stream is
// released.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	stops := c.stops
	c.mu.Unlock()

	s, err := c.guard.Acquire(ctx, c.constraints)
	if err != nil {
		c.logger.Warn("selfie camera unavailable", "kind", camera.KindOf(err).String(), "error", err)
		return &vto.Failure{Kind: vto.CameraAcquisitionFailed, Err: err}
	}

	c.mu.Lock()
	if c.stops != stops {
		c.mu.Unlock()
		c.guard.Release(s)
		c.logger.Info("selfie camera stopped while starting")
		return &vto.Failure{Kind: vto.CameraAcquisitionFailed, Err: ErrStopped}
	}
	c.stream = s
	c.mu.Unlock()
	return nil
}

// Active reports whether the camera is running.
func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Active()
}

// Snap takes a still and stops the camera, whether or not the read
// succeeded.
func (c *Capturer) Snap(ctx context.Context) (Photo, error) {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	if !s.Active() {
		return Photo{}, ErrNotStarted
	}
	defer c.guard.Release(s)

	frame, err := s.ReadFrame(ctx)
	if err != nil {
		return Photo{}, err
	}

	p := FromJPEG(frame.JPEG)
	p.Width, p.Height = frame.Width, frame.Height
	p.CapturedAt = frame.Timestamp

	if c.detector != nil {
		dets, err := c.detector.Detect(frame.JPEG)
		if err != nil {
			c.logger.Warn("face check failed", "error", err)
		} else {
			v := face.Judge(dets)
			p.Faces = &v
		}
	}

	c.logger.Info("selfie captured", "width", p.Width, "height", p.Height, "bytes", len(p.JPEG))
	return p, nil
}

// Stop releases the camera. It is safe to call at any time.
func (c *Capturer) Stop() {
	c.mu.Lock()
	c.stops++
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	c.guard.Release(s)
}

// Capture runs Start and Snap. When the camera cannot be used it returns
// the placeholder photo together with the error, so callers can carry on.
func (c *Capturer) Capture(ctx context.Context) (Photo, error) {
	if err := c.Start(ctx); err != nil {
		return Placeholder(), err
	}
	p, err := c.Snap(ctx)
	if err != nil {
		return Placeholder(), &vto.Failure{Kind: vto.CameraAcquisitionFailed, Err: err}
	}
	return p, nil
}
