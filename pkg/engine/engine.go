// Package engine defines the contract of the external AR try-on engine and
// the machinery that bootstraps it.
//
// The engine is reached only through a Module resolved once per process by
// a Loader. A Module exposes its Widget entry point once it has finished
// initialising; the Poller watches for that. Callers never render anything
// themselves:
//
//	h, err := engine.Default().Load(ctx)
//	if err != nil {
//	    return err
//	}
//	if !engine.NewPoller(0, nil).WaitReady(ctx, h, 10*time.Second) {
//	    return engine.ErrNotReady
//	}
//	w := h.Widget()
//	err = w.Start(engine.StartConfig{...})
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-tryon/pkg/camera"
)

// Sentinel errors.
var (
	// ErrLibraryLoadFailed is returned when the engine module cannot be
	// resolved.
	ErrLibraryLoadFailed = errors.New("engine: library load failed")

	// ErrNotReady is returned when the module has not exposed its widget.
	ErrNotReady = errors.New("engine: not ready")
)

// Widget is the engine's control surface.
type Widget interface {
	// Start boots the widget. Readiness and failures are reported
	// asynchronously through cfg's callbacks.
	Start(cfg StartConfig) error

	// Destroy tears the widget down and releases its resources.
	Destroy() error

	// Load switches the displayed frame model.
	Load(modelID string) error

	EnterAdjustMode() error
	ExitAdjustMode() error
}

// Module is a resolved engine library.
type Module interface {
	// Entry returns the widget, or nil while the module is initialising.
	Entry() Widget
}

// Resolver locates and loads the engine module.
type Resolver interface {
	Resolve(ctx context.Context) (Module, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Module, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) (Module, error) {
	return f(ctx)
}

// Surface is a measured rendering area.
type Surface struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Empty reports whether either dimension is zero.
func (s Surface) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// SearchImage configures the face-search overlay shown before tracking
// locks on.
type SearchImage struct {
	Mask          string  `json:"mask"`
	Color         uint32  `json:"color"`
	RotationSpeed float64 `json:"rotation_speed"`
}

// lookHereMask is a circled "Look Here" SVG.
const lookHereMask = "data:image/svg+xml;base64,PHN2ZyB3aWR0aD0iNTEyIiBoZWlnaHQ9IjUxMiIgdmlld0JveD0iMCAwIDUxMiA1MTIiIGZpbGw9Im5vbmUiIHhtbG5zPSJodHRwOi8vd3d3LnczLm9yZy8yMDAwL3N2ZyI+CjxjaXJjbGUgY3g9IjI1NiIgY3k9IjI1NiIgcj0iMjUwIiBzdHJva2U9IiNlZWVlZWUiIHN0cm9rZS13aWR0aD0iMTIiIGZpbGw9Im5vbmUiLz4KPGV4dCB4PSIyNTYiIHk9IjI3MCIgZm9udC1mYW1pbHk9IkFyaWFsIiBmb250LXNpemU9IjI0IiBmaWxsPSIjZWVlZWVlIiB0ZXh0LWFuY2hvcj0ibWlkZGxlIj5Mb29rIEhlcmU8L3RleHQ+Cjwvc3ZnPgo="

// DefaultSearchImage returns the light-gray slowly rotating target.
func DefaultSearchImage() SearchImage {
	return SearchImage{
		Mask:          lookHereMask,
		Color:         0xeeeeee,
		RotationSpeed: -0.001,
	}
}

// StartConfig is passed to Widget.Start.
type StartConfig struct {
	Placeholder Surface
	Canvas      Surface
	ModelID     string

	// Stream is nil when the caller does not manage the camera itself.
	Stream *camera.Stream

	SearchImage SearchImage

	OnReady        func()
	OnError        func(label string)
	OnLoadingStart func()
	OnLoadingEnd   func()
	OnAdjustStart  func()
	OnAdjustEnd    func()
}

// Handle is the process-wide reference to a resolved module.
type Handle struct {
	module   Module
	loadedAt time.Time
}

// NewHandle wraps a module. Loaders create handles; tests may too.
func NewHandle(m Module) *Handle {
	return &Handle{module: m, loadedAt: time.Now()}
}

// Module returns the underlying module.
func (h *Handle) Module() Module {
	return h.module
}

// LoadedAt returns when the module was resolved.
func (h *Handle) LoadedAt() time.Time {
	return h.loadedAt
}

// Widget returns the module's entry point, or nil if it is not ready or
// probing it panics.
func (h *Handle) Widget() (w Widget) {
	if h == nil || h.module == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			w = nil
		}
	}()
	return h.module.Entry()
}

// Ready reports whether the widget entry point is exposed.
func (h *Handle) Ready() bool {
	return h.Widget() != nil
}

// Call runs fn against the widget, converting a panic into an error.
func Call(w Widget, fn func(Widget) error) (err error) {
	if w == nil {
		return ErrNotReady
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: widget panic: %v", r)
		}
	}()
	return fn(w)
}
