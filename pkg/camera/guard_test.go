package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_AcquireRelease(t *testing.T) {
	dev := NewMockDevice(nil, WithAudioTrack())
	g := NewGuard(dev, nil)

	s, err := g.Acquire(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.Equal(t, 2, g.ActiveTracks())
	assert.Same(t, s, g.Current())

	g.Release(s)
	assert.False(t, s.Active())
	assert.Equal(t, 0, g.ActiveTracks())
	assert.Nil(t, g.Current())

	// Second release must not stop tracks again.
	g.Release(s)
	for _, tr := range dev.Tracks() {
		assert.Equal(t, 1, tr.Stops(), "track %s", tr.ID())
	}
}

func TestGuard_ReleaseNil(t *testing.T) {
	g := NewGuard(NewMockDevice(nil), nil)
	assert.NotPanics(t, func() { g.Release(nil) })
}

func TestGuard_AcquireReleasesPrevious(t *testing.T) {
	dev := NewMockDevice(nil)
	g := NewGuard(dev, nil)
	ctx := context.Background()

	first, err := g.Acquire(ctx, DefaultConstraints())
	require.NoError(t, err)
	second, err := g.Acquire(ctx, TryOnConstraints())
	require.NoError(t, err)

	assert.False(t, first.Active())
	assert.True(t, second.Active())
	assert.Equal(t, 1, g.ActiveTracks())
	assert.Equal(t, 1, dev.LiveTracks())
}

func TestGuard_PermissionDenied(t *testing.T) {
	dev := NewMockDevice(nil, WithFailure(NewError(PermissionDenied, "mock", errors.New("user dismissed prompt"))))
	g := NewGuard(dev, nil)

	s, err := g.Acquire(context.Background(), DefaultConstraints())
	assert.Nil(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, PermissionDenied, KindOf(err))
	assert.Equal(t, 0, g.ActiveTracks())
	assert.Nil(t, g.Current())
}

func TestGuard_UntypedErrorIsDeviceUnavailable(t *testing.T) {
	dev := NewMockDevice(nil, WithFailure(errors.New("no such device")))
	g := NewGuard(dev, nil)

	_, err := g.Acquire(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestGuard_DevicePanicRecovered(t *testing.T) {
	dev := NewMockDevice(nil, WithPanic("driver crashed"))
	g := NewGuard(dev, nil)

	var err error
	require.NotPanics(t, func() {
		_, err = g.Acquire(context.Background(), DefaultConstraints())
	})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Contains(t, err.Error(), "driver crashed")
}

func TestGuard_InvalidConstraints(t *testing.T) {
	dev := NewMockDevice(nil)
	g := NewGuard(dev, nil)

	c := DefaultConstraints()
	c.Width = 10
	_, err := g.Acquire(context.Background(), c)
	assert.ErrorIs(t, err, ErrConstraintsUnsatisfiable)
	assert.Equal(t, 0, dev.Opens(), "device must not be opened")
}

func TestGuard_CancelledContext(t *testing.T) {
	g := NewGuard(NewMockDevice(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Acquire(ctx, DefaultConstraints())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, g.ActiveTracks())
}

func TestGuard_Close(t *testing.T) {
	dev := NewMockDevice(nil)
	g := NewGuard(dev, nil)

	s, err := g.Acquire(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.False(t, s.Active())

	_, err = g.Acquire(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrGuardClosed)

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.Acquired)
	assert.Equal(t, int64(0), stats.ActiveTracks)
}

func TestStream_ReadFrame(t *testing.T) {
	g := NewGuard(NewMockDevice(nil), nil)
	s, err := g.Acquire(context.Background(), TryOnConstraints())
	require.NoError(t, err)

	f, err := s.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 640, f.Width)
	assert.Equal(t, 480, f.Height)
	assert.NotEmpty(t, f.JPEG)

	g.Release(s)
	_, err = s.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrStreamReleased)
}

func TestNewDevice(t *testing.T) {
	d, err := NewDevice(BackendMock, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", d.Name())

	_, err = NewDevice("bogus", nil)
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	for _, name := range PresetNames() {
		p := GetPreset(name)
		require.NotNil(t, p, name)
		assert.Empty(t, p.Validate(), name)
	}
	assert.Nil(t, GetPreset("nope"))
}
