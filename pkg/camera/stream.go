package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStreamReleased is returned when reading from a released stream.
var ErrStreamReleased = errors.New("camera: stream released")

// ErrNoVideoTrack is returned when a stream has no frame-producing track.
var ErrNoVideoTrack = errors.New("camera: no video track")

// Track is one media track of a stream.
type Track interface {
	// ID uniquely identifies the track.
	ID() string

	// Kind is "video" or "audio".
	Kind() string

	// Stop ends the track. Devices may assume it is called at most once.
	Stop() error
}

// Frame is a still image pulled from a video track.
type Frame struct {
	Width     int
	Height    int
	JPEG      []byte
	Timestamp time.Time
}

// FrameReader is implemented by video tracks that can hand out stills.
type FrameReader interface {
	ReadFrame(ctx context.Context) (Frame, error)
}

// Stream is a set of tracks opened together by a device.
type Stream struct {
	id          string
	device      string
	constraints Constraints
	tracks      []Track

	mu       sync.Mutex
	released bool
	onStop   func(stopped int)
}

func newStream(device string, c Constraints, tracks []Track, onStop func(int)) *Stream {
	return &Stream{
		id:          uuid.New().String(),
		device:      device,
		constraints: c,
		tracks:      tracks,
		onStop:      onStop,
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Device returns the name of the device that opened the stream.
func (s *Stream) Device() string {
	return s.device
}

// Constraints returns what the stream was opened with.
func (s *Stream) Constraints() Constraints {
	return s.constraints
}

// Tracks returns the stream's tracks.
func (s *Stream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Active reports whether the stream still holds live tracks.
func (s *Stream) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.released
}

// ReadFrame pulls a still from the first video track.
func (s *Stream) ReadFrame(ctx context.Context) (Frame, error) {
	if !s.Active() {
		return Frame{}, ErrStreamReleased
	}
	for _, t := range s.tracks {
		if r, ok := t.(FrameReader); ok && t.Kind() == "video" {
			return r.ReadFrame(ctx)
		}
	}
	return Frame{}, ErrNoVideoTrack
}

// stop ends every track once. Later calls are no-ops and return 0.
func (s *Stream) stop() (int, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return 0, nil
	}
	s.released = true
	s.mu.Unlock()

	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.onStop != nil {
		s.onStop(len(s.tracks))
	}
	return len(s.tracks), errors.Join(errs...)
}
