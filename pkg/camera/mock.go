package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MockDevice is a camera for tests and headless runs. It produces flat gray
// frames and can be told to fail.
type MockDevice struct {
	logger *slog.Logger

	mu        sync.Mutex
	failWith  error
	panicWith any
	withAudio bool
	tracks    []*MockTrack

	opens atomic.Int64
}

// MockDeviceOption configures a MockDevice.
type MockDeviceOption func(*MockDevice)

// WithFailure makes every Open return err.
func WithFailure(err error) MockDeviceOption {
	return func(m *MockDevice) {
		m.failWith = err
	}
}

// WithPanic makes every Open panic with v.
func WithPanic(v any) MockDeviceOption {
	return func(m *MockDevice) {
		m.panicWith = v
	}
}

// WithAudioTrack adds an audio track to each opened stream.
func WithAudioTrack() MockDeviceOption {
	return func(m *MockDevice) {
		m.withAudio = true
	}
}

// NewMockDevice creates a mock camera.
func NewMockDevice(logger *slog.Logger, opts ...MockDeviceOption) *MockDevice {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockDevice{logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns "mock".
func (m *MockDevice) Name() string {
	return "mock"
}

// SetFailure changes the error returned by subsequent opens. nil clears it.
func (m *MockDevice) SetFailure(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Open returns one video track, plus an audio track if configured.
func (m *MockDevice) Open(ctx context.Context, c Constraints) ([]Track, error) {
	m.opens.Add(1)

	m.mu.Lock()
	failWith, panicWith := m.failWith, m.panicWith
	m.mu.Unlock()

	if panicWith != nil {
		panic(panicWith)
	}
	if failWith != nil {
		return nil, failWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracks := []Track{newMockTrack("video", c)}
	if m.withAudio {
		tracks = append(tracks, newMockTrack("audio", c))
	}

	m.mu.Lock()
	for _, t := range tracks {
		m.tracks = append(m.tracks, t.(*MockTrack))
	}
	m.mu.Unlock()

	m.logger.Debug("mock camera opened", "tracks", len(tracks), "resolution", c.Resolution())
	return tracks, nil
}

// Opens returns how many times Open was called.
func (m *MockDevice) Opens() int {
	return int(m.opens.Load())
}

// Tracks returns every track the device has produced.
func (m *MockDevice) Tracks() []*MockTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// LiveTracks counts produced tracks that have not been stopped.
func (m *MockDevice) LiveTracks() int {
	n := 0
	for _, t := range m.Tracks() {
		if t.Stops() == 0 {
			n++
		}
	}
	return n
}

// MockTrack records how often it was stopped.
type MockTrack struct {
	id          string
	kind        string
	constraints Constraints
	stops       atomic.Int64
}

func newMockTrack(kind string, c Constraints) *MockTrack {
	return &MockTrack{id: uuid.New().String(), kind: kind, constraints: c}
}

// ID returns the track ID.
func (t *MockTrack) ID() string { return t.id }

// Kind returns "video" or "audio".
func (t *MockTrack) Kind() string { return t.kind }

// Stop records the stop.
func (t *MockTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

// Stops returns how many times Stop was called.
func (t *MockTrack) Stops() int {
	return int(t.stops.Load())
}

// ReadFrame encodes a flat gray JPEG at the requested resolution.
func (t *MockTrack) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	w, h := t.constraints.Width, t.constraints.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 128}.Y
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return Frame{}, err
	}
	return Frame{Width: w, Height: h, JPEG: buf.Bytes(), Timestamp: time.Now()}, nil
}
