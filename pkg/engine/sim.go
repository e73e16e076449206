package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWidgetNotStarted is returned by SimWidget controls before Start.
var ErrWidgetNotStarted = errors.New("engine: widget not started")

// Sim is a simulated engine module. It honours the Widget contract and
// reports readiness and errors through the start callbacks, but draws
// nothing. Each Entry call hands out an independent widget.
type Sim struct {
	created    time.Time
	initDelay  time.Duration
	startDelay time.Duration
	loadDelay  time.Duration
	failLabel  string
	startErr   error
	needCamera bool

	mu      sync.Mutex
	started []*SimWidget
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithInitDelay hides the widget entry point for d after creation.
func WithInitDelay(d time.Duration) SimOption {
	return func(s *Sim) { s.initDelay = d }
}

// WithStartDelay sets how long Start takes before reporting ready.
func WithStartDelay(d time.Duration) SimOption {
	return func(s *Sim) { s.startDelay = d }
}

// WithModelLoadDelay sets how long a model switch takes.
func WithModelLoadDelay(d time.Duration) SimOption {
	return func(s *Sim) { s.loadDelay = d }
}

// WithFailLabel makes Start report label through OnError instead of
// becoming ready.
func WithFailLabel(label string) SimOption {
	return func(s *Sim) { s.failLabel = label }
}

// WithStartError makes Start return err synchronously.
func WithStartError(err error) SimOption {
	return func(s *Sim) { s.startErr = err }
}

// WithRequireCamera makes Start report WEBCAM_UNAVAILABLE unless it is
// handed an active stream.
func WithRequireCamera() SimOption {
	return func(s *Sim) { s.needCamera = true }
}

// NewSim creates a simulated module.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		created:    time.Now(),
		startDelay: 50 * time.Millisecond,
		loadDelay:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entry returns a new widget once the init delay has passed.
func (s *Sim) Entry() Widget {
	if time.Since(s.created) < s.initDelay {
		return nil
	}
	return &SimWidget{sim: s}
}

// Widgets returns every widget that has been started, oldest first.
func (s *Sim) Widgets() []*SimWidget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SimWidget, len(s.started))
	copy(out, s.started)
	return out
}

func (s *Sim) track(w *SimWidget) {
	s.mu.Lock()
	s.started = append(s.started, w)
	s.mu.Unlock()
}

// SimResolver returns a resolver producing a fresh Sim per resolution.
func SimResolver(opts ...SimOption) Resolver {
	return ResolverFunc(func(ctx context.Context) (Module, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewSim(opts...), nil
	})
}

// SimWidget is the simulated control surface.
type SimWidget struct {
	sim *Sim

	mu        sync.Mutex
	cfg       StartConfig
	started   bool
	adjusting bool
	model     string
	timers    []*time.Timer
	starts    int
	destroys  int
}

// Start validates cfg and schedules the ready or error callback.
func (w *SimWidget) Start(cfg StartConfig) error {
	if w.sim.startErr != nil {
		return w.sim.startErr
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.starts == 0 {
		w.sim.track(w)
	}
	w.stopTimersLocked()
	w.cfg = cfg
	w.started = true
	w.adjusting = false
	w.starts++
	w.model = cfg.ModelID
	if w.model == "" {
		w.model = DefaultModelID
	}

	label := w.startLabel(cfg)
	w.afterLocked(w.sim.startDelay, func(c StartConfig) {
		if label != "" {
			if c.OnError != nil {
				c.OnError(label)
			}
			return
		}
		if c.OnReady != nil {
			c.OnReady()
		}
	})
	return nil
}

func (w *SimWidget) startLabel(cfg StartConfig) string {
	switch {
	case cfg.Placeholder.Width <= 0:
		return LabelPlaceholderNullWidth
	case cfg.Placeholder.Height <= 0:
		return LabelPlaceholderNullHeight
	case w.sim.needCamera && !cfg.Stream.Active():
		return LabelWebcamUnavailable
	case w.sim.failLabel != "":
		return w.sim.failLabel
	}
	if _, ok := LookupModel(w.model); !ok {
		return LabelInvalidSKU
	}
	return ""
}

// Destroy cancels pending callbacks. It is idempotent.
func (w *SimWidget) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimersLocked()
	if w.started {
		w.destroys++
	}
	w.started = false
	w.adjusting = false
	return nil
}

// Load switches the model, reporting loading start and end.
func (w *SimWidget) Load(modelID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrWidgetNotStarted
	}
	if _, ok := LookupModel(modelID); !ok {
		w.afterLocked(0, func(c StartConfig) {
			if c.OnError != nil {
				c.OnError(LabelInvalidSKU)
			}
		})
		return nil
	}

	w.afterLocked(0, func(c StartConfig) {
		if c.OnLoadingStart != nil {
			c.OnLoadingStart()
		}
	})
	w.afterLocked(w.sim.loadDelay, func(c StartConfig) {
		w.mu.Lock()
		w.model = modelID
		w.mu.Unlock()
		if c.OnLoadingEnd != nil {
			c.OnLoadingEnd()
		}
	})
	return nil
}

// EnterAdjustMode starts fit adjustment.
func (w *SimWidget) EnterAdjustMode() error {
	return w.setAdjust(true)
}

// ExitAdjustMode ends fit adjustment.
func (w *SimWidget) ExitAdjustMode() error {
	return w.setAdjust(false)
}

func (w *SimWidget) setAdjust(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrWidgetNotStarted
	}
	w.adjusting = on
	w.afterLocked(0, func(c StartConfig) {
		cb := c.OnAdjustEnd
		if on {
			cb = c.OnAdjustStart
		}
		if cb != nil {
			cb()
		}
	})
	return nil
}

// Model returns the displayed model.
func (w *SimWidget) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// Adjusting reports whether adjust mode is on.
func (w *SimWidget) Adjusting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.adjusting
}

// Started reports whether the widget is running.
func (w *SimWidget) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Counts returns how many times the widget was started and destroyed.
func (w *SimWidget) Counts() (starts, destroys int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts, w.destroys
}

// afterLocked runs fn with the current config after d, unless the widget
// is destroyed or restarted first. Callbacks always run off the caller's
// goroutine.
func (w *SimWidget) afterLocked(d time.Duration, fn func(StartConfig)) {
	cfg := w.cfg
	starts := w.starts
	t := time.AfterFunc(d, func() {
		w.mu.Lock()
		live := w.started && w.starts == starts
		w.mu.Unlock()
		if live {
			fn(cfg)
		}
	})
	w.timers = append(w.timers, t)
}

func (w *SimWidget) stopTimersLocked() {
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
}
