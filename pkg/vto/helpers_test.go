package vto

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/engine"
)

// fakeScheduler records timers and fires them only when told to.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d time.Duration
	f func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.pending() {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fakeTimer, len(s.timers))
	copy(out, s.timers)
	return out
}

// fireNext waits for a pending timer, fires the oldest and returns its
// delay.
func (s *fakeScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	var next *fakeTimer
	require.Eventually(t, func() bool {
		p := s.pending()
		if len(p) == 0 {
			return false
		}
		next = p[0]
		return true
	}, time.Second, time.Millisecond, "no pending timer")

	next.mu.Lock()
	next.fired = true
	next.mu.Unlock()
	next.f()
	return next.d
}

// fireAllRaw runs every callback ever scheduled, stopped or not, the way a
// timer that ignored cancellation would.
func (s *fakeScheduler) fireAllRaw() {
	for _, t := range s.all() {
		t.f()
	}
}

// fakeWidget records calls and lets tests drive the engine callbacks.
type fakeWidget struct {
	mu         sync.Mutex
	cfgs       []engine.StartConfig
	loads      []string
	adjust     []bool
	destroys   int
	startErr   error
	startPanic bool
}

func (w *fakeWidget) Start(cfg engine.StartConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startPanic {
		panic("engine exploded")
	}
	if w.startErr != nil {
		return w.startErr
	}
	w.cfgs = append(w.cfgs, cfg)
	return nil
}

func (w *fakeWidget) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.destroys++
	return nil
}

func (w *fakeWidget) Load(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads = append(w.loads, id)
	return nil
}

func (w *fakeWidget) EnterAdjustMode() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adjust = append(w.adjust, true)
	return nil
}

func (w *fakeWidget) ExitAdjustMode() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.adjust = append(w.adjust, false)
	return nil
}

func (w *fakeWidget) starts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cfgs)
}

func (w *fakeWidget) lastConfig() engine.StartConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfgs[len(w.cfgs)-1]
}

func (w *fakeWidget) destroyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroys
}

// fakeModule exposes the widget once ready is set.
type fakeModule struct {
	widget *fakeWidget
	ready  atomic.Bool
}

func (m *fakeModule) Entry() engine.Widget {
	if !m.ready.Load() {
		return nil
	}
	return m.widget
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	failures    []ErrorKind
	retries     []time.Duration
}

func (o *recordingObserver) StateChanged(_ string, _, to State) {
	o.mu.Lock()
	o.transitions = append(o.transitions, to)
	o.mu.Unlock()
}

func (o *recordingObserver) Failed(_ string, err *Failure) {
	o.mu.Lock()
	o.failures = append(o.failures, err.Kind)
	o.mu.Unlock()
}

func (o *recordingObserver) Retried(_ string, _ int, d time.Duration) {
	o.mu.Lock()
	o.retries = append(o.retries, d)
	o.mu.Unlock()
}

type harness struct {
	t        *testing.T
	sched    *fakeScheduler
	widget   *fakeWidget
	module   *fakeModule
	loader   *engine.Loader
	device   *camera.MockDevice
	guard    *camera.Guard
	observer *recordingObserver
	ctrl     *Controller

	// loadErr, when set, fails every resolution.
	loadErr atomic.Pointer[error]
	// gate, when non-nil, blocks resolution until closed.
	gate chan struct{}
}

type harnessOption func(*harness)

func withGate() harnessOption {
	return func(h *harness) { h.gate = make(chan struct{}) }
}

func withLoadFailure() harnessOption {
	return func(h *harness) {
		err := errors.New("module fetch failed")
		h.loadErr.Store(&err)
	}
}

func withModuleNotReady() harnessOption {
	return func(h *harness) { h.module.ready.Store(false) }
}

func withDevice(opts ...camera.MockDeviceOption) harnessOption {
	return func(h *harness) {
		h.device = camera.NewMockDevice(nil, opts...)
		h.guard = camera.NewGuard(h.device, nil)
	}
}

var testFrame = catalog.FrameSelection{
	ID:    1,
	Name:  "Ray-Ban Glasses",
	Price: 450,
	Style: []string{"Classic", "Versatile"},
	Match: 95,
}

var goodLayout = FixedLayout{
	Placeholder: engine.Surface{ID: "placeholder", Width: 480, Height: 640},
	Canvas:      engine.Surface{ID: "canvas", Width: 480, Height: 640},
}

func newHarness(t *testing.T, hopts []harnessOption, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		sched:    &fakeScheduler{},
		widget:   &fakeWidget{},
		observer: &recordingObserver{},
	}
	h.module = &fakeModule{widget: h.widget}
	h.module.ready.Store(true)
	h.device = camera.NewMockDevice(nil)
	h.guard = camera.NewGuard(h.device, nil)

	for _, o := range hopts {
		o(h)
	}

	h.loader = engine.NewLoader(engine.ResolverFunc(func(ctx context.Context) (engine.Module, error) {
		if h.gate != nil {
			select {
			case <-h.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if p := h.loadErr.Load(); p != nil {
			return nil, *p
		}
		return h.module, nil
	}), nil)

	base := []Option{
		WithSession("test-session"),
		WithScheduler(h.sched),
		WithLoader(h.loader),
		WithPoller(engine.NewPoller(time.Millisecond, nil)),
		WithReadyTimeout(30 * time.Millisecond),
		WithGuard(h.guard, camera.TryOnConstraints()),
		WithObserver(h.observer),
	}
	ctrl, err := New(testFrame, append(base, opts...)...)
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() { ctrl.Teardown() })
	return h
}

func (h *harness) waitState(want State) Snapshot {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.ctrl.State() == want
	}, 2*time.Second, time.Millisecond, "never reached %s (at %s)", want, h.ctrl.State())
	return h.ctrl.Snapshot()
}

func (h *harness) waitStarted(n int) engine.StartConfig {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.widget.starts() >= n
	}, 2*time.Second, time.Millisecond, "widget never started")
	return h.widget.lastConfig()
}

// mountToReady drives a fresh controller all the way to Ready.
func (h *harness) mountToReady() Snapshot {
	h.t.Helper()
	require.True(h.t, h.ctrl.Mount(goodLayout))
	h.sched.fireNext(h.t)
	cfg := h.waitStarted(h.widget.starts() + 1)
	cfg.OnReady()
	h.sched.fireNext(h.t)
	return h.waitState(Ready)
}

// mountToError fails the first boot by reporting an engine error label.
func (h *harness) mountToError(label string) Snapshot {
	h.t.Helper()
	require.True(h.t, h.ctrl.Mount(goodLayout))
	h.sched.fireNext(h.t)
	cfg := h.waitStarted(h.widget.starts() + 1)
	cfg.OnError(label)
	return h.waitState(Error)
}
