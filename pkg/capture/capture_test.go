package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/face"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

type stubDetector struct {
	dets []face.Detection
	err  error
	seen int
}

func (d *stubDetector) Detect([]byte) ([]face.Detection, error) {
	d.seen++
	return d.dets, d.err
}

func (d *stubDetector) Close() error { return nil }

func TestCaptureHappyPath(t *testing.T) {
	dev := camera.NewMockDevice(nil)
	guard := camera.NewGuard(dev, nil)
	det := &stubDetector{dets: []face.Detection{{X: 0.3, Y: 0.2, W: 0.4, H: 0.5, Confidence: 0.9}}}
	c := New(guard, WithDetector(det))

	p, err := c.Capture(context.Background())
	require.NoError(t, err)

	assert.False(t, p.Placeholder)
	assert.True(t, strings.HasPrefix(p.DataURL, "data:image/jpeg;base64,"))
	assert.Equal(t, 1280, p.Width)
	assert.Equal(t, 720, p.Height)
	require.NotNil(t, p.Faces)
	assert.True(t, p.Faces.OK)
	assert.Equal(t, 1, det.seen)

	// The camera is stopped as soon as the still is taken.
	assert.False(t, c.Active())
	assert.Equal(t, 0, dev.LiveTracks())
	assert.Equal(t, 0, guard.ActiveTracks())
}

// Permission denied during the standalone capture step: the caller gets
// CameraAcquisitionFailed, nothing is held and the placeholder is used.
func TestCapturePermissionDenied(t *testing.T) {
	dev := camera.NewMockDevice(nil, camera.WithFailure(camera.ErrPermissionDenied))
	guard := camera.NewGuard(dev, nil)
	c := New(guard)

	p, err := c.Capture(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, vto.ErrCameraAcquisitionFailed)
	assert.ErrorIs(t, err, camera.ErrPermissionDenied)

	var verr *vto.Failure
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Message(), "Camera access is required")

	assert.True(t, p.Placeholder)
	assert.Equal(t, PlaceholderSelfie, p.DataURL)
	assert.False(t, c.Active())
	assert.Nil(t, guard.Current())
	assert.Equal(t, 0, dev.LiveTracks())

	// Stopping after a failed start is harmless.
	c.Stop()
	c.Stop()
}

func TestSnapWithoutStart(t *testing.T) {
	c := New(camera.NewGuard(camera.NewMockDevice(nil), nil))
	_, err := c.Snap(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartTwiceKeepsOneStream(t *testing.T) {
	dev := camera.NewMockDevice(nil)
	guard := camera.NewGuard(dev, nil)
	c := New(guard, WithConstraints(camera.LegacyConstraints()))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Active())
	assert.Equal(t, 2, dev.Opens())
	assert.Equal(t, 1, dev.LiveTracks())

	c.Stop()
	assert.False(t, c.Active())
	assert.Equal(t, 0, dev.LiveTracks())
}

func TestSnapCancelledReleasesCamera(t *testing.T) {
	dev := camera.NewMockDevice(nil)
	c := New(camera.NewGuard(dev, nil))
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Snap(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, dev.LiveTracks())
}

// slowDevice holds Open until the gate opens.
type slowDevice struct {
	*camera.MockDevice
	entered chan struct{}
	gate    chan struct{}
}

func (d *slowDevice) Open(ctx context.Context, c camera.Constraints) ([]camera.Track, error) {
	close(d.entered)
	<-d.gate
	return d.MockDevice.Open(ctx, c)
}

func TestStopDuringSlowStart(t *testing.T) {
	dev := &slowDevice{MockDevice: camera.NewMockDevice(nil), entered: make(chan struct{}), gate: make(chan struct{})}
	c := New(camera.NewGuard(dev, nil))

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	<-dev.entered

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the camera to open")
	}

	close(dev.gate)
	err := <-started
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, vto.ErrCameraAcquisitionFailed)
	assert.False(t, c.Active())
	assert.Equal(t, 0, dev.LiveTracks())
}

func TestDetectorErrorDoesNotFailCapture(t *testing.T) {
	det := &stubDetector{err: errors.New("model missing")}
	c := New(camera.NewGuard(camera.NewMockDevice(nil), nil), WithDetector(det))

	p, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p.Faces)
}

func TestFromJPEG(t *testing.T) {
	p := FromJPEG([]byte{0xff, 0xd8})
	assert.Equal(t, "data:image/jpeg;base64,/9g=", p.DataURL)
	assert.False(t, p.Placeholder)
}
