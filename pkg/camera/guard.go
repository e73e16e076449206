package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrGuardClosed is returned by Acquire after Close.
var ErrGuardClosed = errors.New("camera: guard closed")

// Guard owns the single active stream of one consumer. Every track it hands
// out is stopped exactly once, whichever path releases it.
type Guard struct {
	device Device
	logger *slog.Logger

	mu      sync.Mutex
	current *Stream
	closed  bool

	active   atomic.Int64
	acquired atomic.Int64
	failed   atomic.Int64
}

// NewGuard creates a guard over device.
func NewGuard(device Device, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		device: device,
		logger: logger.With("component", "camera"),
	}
}

// Acquire opens a stream, releasing any stream this guard already holds
// first. On failure no tracks remain live.
func (g *Guard) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGuardClosed
	}

	if g.current != nil {
		g.releaseLocked(g.current)
	}

	if errs := c.Validate(); len(errs) > 0 {
		g.failed.Add(1)
		return nil, NewError(ConstraintsUnsatisfiable, g.device.Name(), errors.New(strings.Join(errs, "; ")))
	}

	tracks, err := g.open(ctx, c)
	if err != nil {
		g.failed.Add(1)
		g.logger.Warn("camera acquisition failed", "kind", KindOf(err).String(), "error", err)
		return nil, err
	}

	// The caller may have gone away while the device was starting.
	if ctx.Err() != nil {
		stopAll(tracks)
		g.failed.Add(1)
		return nil, NewError(DeviceUnavailable, g.device.Name(), ctx.Err())
	}

	s := newStream(g.device.Name(), c, tracks, func(n int) { g.active.Add(-int64(n)) })
	g.active.Add(int64(len(tracks)))
	g.acquired.Add(1)
	g.current = s

	g.logger.Info("camera acquired",
		"stream", s.ID(),
		"tracks", len(tracks),
		"resolution", c.Resolution(),
		"facing", string(c.FacingMode),
	)
	return s, nil
}

// open calls the device, converting panics and untyped errors into
// camera errors.
func (g *Guard) open(ctx context.Context, c Constraints) (tracks []Track, err error) {
	defer func() {
		if r := recover(); r != nil {
			tracks = nil
			err = NewError(DeviceUnavailable, g.device.Name(), fmt.Errorf("device panic: %v", r))
		}
	}()

	tracks, err = g.device.Open(ctx, c)
	if err != nil {
		stopAll(tracks)
		var ce *Error
		if !errors.As(err, &ce) {
			err = NewError(KindOf(err), g.device.Name(), err)
		}
		return nil, err
	}
	return tracks, nil
}

// Release stops the stream's tracks. It is safe to call with nil, with a
// stream this guard no longer holds, or more than once.
func (g *Guard) Release(s *Stream) {
	if s == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(s)
}

func (g *Guard) releaseLocked(s *Stream) {
	n, err := s.stop()
	if g.current == s {
		g.current = nil
	}
	if n == 0 {
		return
	}
	if err != nil {
		g.logger.Warn("camera track stop failed", "stream", s.ID(), "error", err)
	}
	g.logger.Info("camera released", "stream", s.ID(), "tracks", n)
}

// Current returns the held stream, or nil.
func (g *Guard) Current() *Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// ActiveTracks returns the number of live tracks handed out by this guard.
func (g *Guard) ActiveTracks() int {
	return int(g.active.Load())
}

// GuardStats summarizes guard activity.
type GuardStats struct {
	Acquired     int64 `json:"acquired"`
	Failed       int64 `json:"failed"`
	ActiveTracks int64 `json:"active_tracks"`
}

// Stats returns counters for health and metrics reporting.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Acquired:     g.acquired.Load(),
		Failed:       g.failed.Load(),
		ActiveTracks: g.active.Load(),
	}
}

// Close releases the held stream and rejects further acquisitions.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.current != nil {
		g.releaseLocked(g.current)
	}
	return nil
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			_ = t.Stop()
		}
	}
}
