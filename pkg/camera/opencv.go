//go:build opencv

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// OpenCVDevice captures from a local webcam through OpenCV.
type OpenCVDevice struct {
	logger *slog.Logger
}

func newOpenCVDevice(logger *slog.Logger) (Device, error) {
	return &OpenCVDevice{logger: logger}, nil
}

// Name returns "opencv".
func (d *OpenCVDevice) Name() string {
	return "opencv"
}

// Open starts the capture device at c.DeviceIndex.
func (d *OpenCVDevice) Open(ctx context.Context, c Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(DeviceUnavailable, d.Name(), err)
	}

	vc, err := gocv.OpenVideoCapture(c.DeviceIndex)
	if err != nil {
		if isPermissionError(err) {
			return nil, NewError(PermissionDenied, d.Name(), err)
		}
		return nil, NewError(DeviceUnavailable, d.Name(), err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, NewError(DeviceUnavailable, d.Name(), fmt.Errorf("device %d not opened", c.DeviceIndex))
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	if c.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.Framerate))
	}

	if c.Exact {
		w := int(vc.Get(gocv.VideoCaptureFrameWidth))
		h := int(vc.Get(gocv.VideoCaptureFrameHeight))
		if w != c.Width || h != c.Height {
			vc.Close()
			return nil, NewError(ConstraintsUnsatisfiable, d.Name(),
				fmt.Errorf("device delivers %dx%d, want %s", w, h, c.Resolution()))
		}
	}

	d.logger.Info("opencv camera opened", "index", c.DeviceIndex, "resolution", c.Resolution())
	return []Track{&openCVTrack{id: uuid.New().String(), vc: vc}}, nil
}

func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized")
}

type openCVTrack struct {
	id string

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	stopped bool
}

func (t *openCVTrack) ID() string   { return t.id }
func (t *openCVTrack) Kind() string { return "video" }

func (t *openCVTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	return t.vc.Close()
}

func (t *openCVTrack) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return Frame{}, ErrStreamReleased
	}

	img := gocv.NewMat()
	defer img.Close()
	if ok := t.vc.Read(&img); !ok || img.Empty() {
		return Frame{}, NewError(DeviceUnavailable, "opencv", fmt.Errorf("empty frame"))
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return Frame{Width: img.Cols(), Height: img.Rows(), JPEG: data, Timestamp: time.Now()}, nil
}
