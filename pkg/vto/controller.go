// Package vto drives the virtual try-on widget through its lifecycle.
//
// A Controller boots the AR engine (load, readiness poll, optional camera
// acquisition, start), exposes the viewing, adjust-fit and model-switch
// modes, and turns every failure into the Error state with a bounded,
// user-triggered retry and a demo fallback once retries run out.
//
// All transitions happen on one loop goroutine. Engine callbacks, timer
// expiries and boot-step results are posted to the loop tagged with the
// boot attempt they belong to; results from a superseded attempt or from
// after Teardown are dropped. Observers render from Snapshot values only.
//
// Operations that are invalid in the current state are soft no-ops: they
// log a warning, return false and leave the state untouched.
package vto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/engine"
)

const subscriberBuffer = 16

// Layout reports the size of the rendering surfaces. It is measured after
// the settle delay of every boot attempt.
type Layout interface {
	Measure() (placeholder, canvas engine.Surface)
}

// FixedLayout is a Layout that never changes.
type FixedLayout struct {
	Placeholder engine.Surface
	Canvas      engine.Surface
}

// Measure returns the fixed surfaces.
func (l FixedLayout) Measure() (engine.Surface, engine.Surface) {
	return l.Placeholder, l.Canvas
}

// LayoutFunc adapts a function to Layout.
type LayoutFunc func() (placeholder, canvas engine.Surface)

// Measure calls f.
func (f LayoutFunc) Measure() (engine.Surface, engine.Surface) {
	return f()
}

// Controller is the try-on widget state machine for one session.
type Controller struct {
	cfg    Config
	frame  catalog.FrameSelection
	logger *slog.Logger

	mb   *mailbox
	done chan struct{}
	snap atomic.Pointer[Snapshot]

	// Owned by the loop goroutine.
	state        State
	gen          uint64
	err          *Failure
	retry        RetryContext
	model        string
	modelLoading bool
	mounted      bool
	closed       bool
	dirty        bool

	layout      Layout
	placeholder engine.Surface
	canvas      engine.Surface

	ctx     context.Context
	cancel  context.CancelFunc
	timers  timerSet
	loaded  *engine.Handle
	widget  engine.Widget
	started bool
	stream  *camera.Stream

	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a controller for frame and starts its loop. The widget does
// nothing until Mount.
func New(frame catalog.FrameSelection, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:    *cfg,
		frame:  frame,
		logger: cfg.Logger.With("component", "vto", "session", cfg.Session),
		mb:     newMailbox(),
		done:   make(chan struct{}),
		retry:  RetryContext{Max: cfg.Retry.Max},
		model:  cfg.ModelID,
		subs:   make(map[int]chan Snapshot),
	}
	c.publish()

	go c.run()
	return c, nil
}

func (c *Controller) run() {
	defer close(c.done)

	for range c.mb.signal {
		batch := c.mb.drain()
		for i, ev := range batch {
			if ev.kind == evRequest {
				res := ev.fn()
				c.flush()
				ev.reply <- res
			} else {
				c.handle(ev)
				c.flush()
			}
			if c.closed {
				for _, rest := range batch[i+1:] {
					c.discard(rest)
				}
				for _, rest := range c.mb.close() {
					c.discard(rest)
				}
				return
			}
		}
	}
}

// discard drops ev without applying it. Late camera acquisitions are
// released so no track outlives its attempt.
func (c *Controller) discard(ev event) {
	if ev.reply != nil {
		ev.reply <- false
	}
	if ev.kind == evAcquired && ev.stream != nil && c.cfg.Guard != nil {
		c.cfg.Guard.Release(ev.stream)
	}
}

// do runs fn on the loop and returns its result. It returns false once the
// controller has been torn down.
func (c *Controller) do(op string, fn func() bool) bool {
	reply := make(chan bool, 1)
	if !c.mb.push(event{kind: evRequest, op: op, fn: fn, reply: reply}) {
		c.logger.Warn("operation ignored: controller torn down", "op", op)
		return false
	}
	return <-reply
}

func (c *Controller) flush() {
	if c.dirty && !c.closed {
		c.publish()
	}
}

func (c *Controller) handle(ev event) {
	if ev.gen != c.gen {
		c.logger.Debug("stale event dropped", "event", ev.kind.String(), "gen", ev.gen, "current", c.gen)
		c.discard(ev)
		return
	}

	switch ev.kind {
	case evSettled:
		c.onSettled()
	case evLoaded:
		c.onLoaded(ev)
	case evPolled:
		c.onPolled(ev)
	case evAcquired:
		c.onAcquired(ev)
	case evReady:
		c.onReady()
	case evReadySettled:
		c.onReadySettled()
	case evEngineError:
		c.onEngineError(ev.label)
	case evLoadingStart, evLoadingEnd:
		if c.state == Ready || c.state == AdjustMode {
			c.modelLoading = ev.kind == evLoadingStart
			c.dirty = true
		}
	}
}

// Boot sequence.

func (c *Controller) onSettled() {
	if c.state != Idle && c.state != Loading {
		return
	}

	placeholder, canvas := c.layout.Measure()
	switch {
	case placeholder.Width <= 0:
		c.fail(guardError(engine.PlaceholderNullWidth))
		return
	case placeholder.Height <= 0:
		c.fail(guardError(engine.PlaceholderNullHeight))
		return
	}
	c.placeholder, c.canvas = placeholder, canvas

	c.setState(Loading)
	loader := c.cfg.Loader
	c.submit(func(ctx context.Context) event {
		h, err := loader.Load(ctx)
		return event{kind: evLoaded, handle: h, err: err}
	})
}

func (c *Controller) onLoaded(ev event) {
	if c.state != Loading {
		return
	}
	if ev.err != nil {
		c.fail(newError(LibraryLoadFailed, ev.err))
		return
	}

	c.loaded = ev.handle
	c.setState(Polling)
	h, poller, timeout := ev.handle, c.cfg.Poller, c.cfg.ReadyTimeout
	c.submit(func(ctx context.Context) event {
		return event{kind: evPolled, ok: poller.WaitReady(ctx, h, timeout)}
	})
}

func (c *Controller) onPolled(ev event) {
	if c.state != Polling {
		return
	}
	if !ev.ok {
		c.fail(newError(ReadinessTimeout, fmt.Errorf("engine not ready after %s", c.cfg.ReadyTimeout)))
		return
	}

	c.widget = c.loaded.Widget()
	if c.widget == nil {
		c.fail(newError(ReadinessTimeout, engine.ErrNotReady))
		return
	}
	c.setState(Starting)

	if c.cfg.Guard == nil {
		c.startEngine()
		return
	}
	guard, constraints := c.cfg.Guard, c.cfg.Constraints
	c.submit(func(ctx context.Context) event {
		s, err := guard.Acquire(ctx, constraints)
		return event{kind: evAcquired, stream: s, err: err}
	})
}

func (c *Controller) onAcquired(ev event) {
	if c.state != Starting {
		c.discard(ev)
		return
	}
	if ev.err != nil {
		c.fail(newError(CameraAcquisitionFailed, ev.err))
		return
	}
	c.stream = ev.stream
	c.startEngine()
}

func (c *Controller) startEngine() {
	gen := c.gen
	post := func(ev event) {
		ev.gen = gen
		c.mb.push(ev)
	}

	cfg := engine.StartConfig{
		Placeholder:    c.placeholder,
		Canvas:         c.canvas,
		ModelID:        c.model,
		Stream:         c.stream,
		SearchImage:    c.cfg.SearchImage,
		OnReady:        func() { post(event{kind: evReady}) },
		OnError:        func(label string) { post(event{kind: evEngineError, label: label}) },
		OnLoadingStart: func() { post(event{kind: evLoadingStart}) },
		OnLoadingEnd:   func() { post(event{kind: evLoadingEnd}) },
	}

	err := engine.Call(c.widget, func(w engine.Widget) error { return w.Start(cfg) })
	if err != nil {
		c.fail(&Failure{Kind: EngineStartError, Reason: engine.Unknown, Err: err})
		return
	}
	c.started = true
	c.logger.Info("engine started", "model", c.model, "camera", c.stream != nil)
}

func (c *Controller) onReady() {
	if c.state != Starting {
		return
	}
	c.after(c.cfg.ReadySettle, evReadySettled)
}

func (c *Controller) onReadySettled() {
	if c.state != Starting {
		return
	}
	c.retry.Count = 0
	c.retry.Backoff = 0
	c.err = nil
	c.setState(Ready)
}

func (c *Controller) onEngineError(label string) {
	switch c.state {
	case Idle, Error, DemoFallback:
		return
	}
	c.fail(engineLabelError(label))
}

// fail moves to Error, fencing off everything the failed attempt started.
func (c *Controller) fail(e *Failure) {
	c.logger.Warn("try-on failed",
		"kind", e.Kind.String(),
		"reason", e.Reason.String(),
		"label", e.Label,
		"state", c.state.String(),
		"error", e,
	)

	c.endAttempt()
	c.gen++
	c.releaseEngine()

	c.err = e
	c.modelLoading = false
	c.setState(Error)
	if c.cfg.Observer != nil {
		c.cfg.Observer.Failed(c.cfg.Session, e)
	}
}

// Attempt plumbing.

func (c *Controller) newAttempt() {
	c.endAttempt()
	c.gen++
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.dirty = true
}

func (c *Controller) endAttempt() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if n := c.timers.stopAll(); n > 0 {
		c.logger.Debug("cancelled pending timers", "count", n)
	}
}

func (c *Controller) after(d time.Duration, kind eventKind) {
	gen := c.gen
	t := c.cfg.Scheduler.AfterFunc(d, func() {
		c.mb.push(event{kind: kind, gen: gen})
	})
	c.timers.add(t)
}

// submit runs a blocking boot step on the runner and posts its result.
func (c *Controller) submit(step func(ctx context.Context) event) {
	gen, ctx := c.gen, c.ctx
	task := func() {
		ev := step(ctx)
		ev.gen = gen
		if !c.mb.push(ev) {
			c.discard(ev)
		}
	}
	if err := c.cfg.Runner.Submit(task); err != nil {
		c.logger.Warn("runner rejected boot step, using a goroutine", "error", err)
		go task()
	}
}

func (c *Controller) releaseEngine() {
	if c.widget != nil && c.started {
		if err := engine.Call(c.widget, func(w engine.Widget) error { return w.Destroy() }); err != nil {
			c.logger.Warn("engine destroy failed", "error", err)
		}
	}
	c.widget = nil
	c.started = false
	c.loaded = nil

	if c.stream != nil {
		c.cfg.Guard.Release(c.stream)
		c.stream = nil
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	c.dirty = true
	if from == to {
		return
	}
	c.logger.Info("state changed", "from", from.String(), "to", to.String(), "gen", c.gen)
	if c.cfg.Observer != nil {
		c.cfg.Observer.StateChanged(c.cfg.Session, from, to)
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Session:      c.cfg.Session,
		State:        c.state,
		Frame:        c.frame,
		Model:        c.model,
		ModelLoading: c.modelLoading,
		Err:          c.err,
		Retry:        c.retry,
		Generation:   c.gen,
		At:           time.Now(),
	}
	s.Controls = DeriveControls(s)
	return s
}

// publish stores the current snapshot and fans it out. Slow subscribers
// lose their oldest pending snapshot rather than blocking the loop.
func (c *Controller) publish() {
	s := c.snapshot()
	c.snap.Store(&s)
	c.dirty = false

	for _, ch := range c.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// warn logs a soft no-op.
func (c *Controller) warn(op, why string) bool {
	c.logger.Warn("operation ignored", "op", op, "reason", why, "state", c.state.String())
	return false
}

// Public operations.

// Mount attaches the widget to layout and starts the boot sequence after
// the settle delay. Only the first call has an effect.
func (c *Controller) Mount(layout Layout) bool {
	return c.do("mount", func() bool {
		if c.mounted {
			return c.warn("mount", "already mounted")
		}
		if layout == nil {
			return c.warn("mount", "no layout")
		}
		c.mounted = true
		c.layout = layout
		c.newAttempt()
		c.after(c.cfg.SettleDelay, evSettled)
		c.logger.Info("widget mounted", "frame", c.frame.Name, "settle_ms", c.cfg.SettleDelay.Milliseconds())
		return true
	})
}

// Retry restarts the boot sequence from Error after the backoff delay,
// starting the engine with the model the widget was mounted with. It is
// rejected once retries are exhausted.
func (c *Controller) Retry() bool {
	return c.do("retry", func() bool {
		if c.state != Error {
			return c.warn("retry", "not in error state")
		}
		if !c.retry.CanRetry() {
			return c.warn("retry", "retries exhausted, request demo fallback instead")
		}

		c.retry.Count++
		c.retry.Backoff = c.cfg.Retry.Delay(c.retry.Count)
		c.err = nil
		// A switched model may be what failed; reboot with the mounted one.
		c.model = c.cfg.ModelID
		c.newAttempt()
		c.setState(Loading)
		c.after(c.retry.Backoff, evSettled)

		c.logger.Info("retrying", "count", c.retry.Count, "max", c.retry.Max, "backoff_ms", c.retry.Backoff.Milliseconds())
		if c.cfg.Observer != nil {
			c.cfg.Observer.Retried(c.cfg.Session, c.retry.Count, c.retry.Backoff)
		}
		return true
	})
}

// RequestDemoFallback switches to the simulated preview. Only valid in
// Error once retries are exhausted.
func (c *Controller) RequestDemoFallback() bool {
	return c.do("demo_fallback", func() bool {
		if c.state != Error {
			return c.warn("demo_fallback", "not in error state")
		}
		if c.retry.CanRetry() {
			return c.warn("demo_fallback", "retries remaining")
		}
		c.setState(DemoFallback)
		return true
	})
}

// ExitDemoFallback closes the simulated preview and returns to Error with
// the exhausted retry context intact.
func (c *Controller) ExitDemoFallback() bool {
	return c.do("exit_demo_fallback", func() bool {
		if c.state != DemoFallback {
			return c.warn("exit_demo_fallback", "not in demo fallback")
		}
		c.setState(Error)
		return true
	})
}

// EnterAdjustMode swaps the model-switch controls for the fit overlay.
func (c *Controller) EnterAdjustMode() bool {
	return c.do("enter_adjust", func() bool {
		if c.state != Ready {
			return c.warn("enter_adjust", "widget not ready")
		}
		if err := engine.Call(c.widget, func(w engine.Widget) error { return w.EnterAdjustMode() }); err != nil {
			c.logger.Warn("enter adjust mode failed", "error", err)
			return false
		}
		c.setState(AdjustMode)
		return true
	})
}

// ExitAdjustMode restores the model-switch controls.
func (c *Controller) ExitAdjustMode() bool {
	return c.do("exit_adjust", func() bool {
		if c.state != AdjustMode {
			return c.warn("exit_adjust", "not adjusting")
		}
		if err := engine.Call(c.widget, func(w engine.Widget) error { return w.ExitAdjustMode() }); err != nil {
			c.logger.Warn("exit adjust mode failed", "error", err)
			return false
		}
		c.setState(Ready)
		return true
	})
}

// SwitchModel asks the engine to display another frame model. The
// engine's loading callbacks toggle Snapshot.ModelLoading.
func (c *Controller) SwitchModel(id string) bool {
	return c.do("switch_model", func() bool {
		if c.state != Ready {
			return c.warn("switch_model", "widget not ready")
		}
		if err := engine.Call(c.widget, func(w engine.Widget) error { return w.Load(id) }); err != nil {
			c.logger.Warn("model switch failed", "model", id, "error", err)
			return false
		}
		c.model = id
		c.dirty = true
		c.logger.Info("model switched", "model", id)
		return true
	})
}

// Teardown cancels everything in flight, destroys the widget, releases the
// camera, resets the retry context and closes all subscriptions. The
// controller stays at the Idle baseline afterwards. Later calls return
// false.
func (c *Controller) Teardown() bool {
	ok := c.do("teardown", func() bool {
		c.endAttempt()
		c.gen++
		c.releaseEngine()

		c.retry = RetryContext{Max: c.cfg.Retry.Max}
		c.err = nil
		c.modelLoading = false
		c.model = c.cfg.ModelID
		c.setState(Idle)

		c.closed = true
		c.publish()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.logger.Info("widget torn down")
		return true
	})
	if ok {
		<-c.done
	}
	return ok
}

// Subscribe returns a channel of snapshots, starting with the current one,
// and a function that cancels the subscription. The channel is closed on
// cancel or Teardown.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	id := -1
	ok := c.do("subscribe", func() bool {
		id = c.nextSub
		c.nextSub++
		c.subs[id] = ch
		ch <- c.snapshot()
		return true
	})
	if !ok {
		ch <- c.Snapshot()
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mb.push(event{kind: evRequest, op: "unsubscribe", reply: make(chan bool, 1), fn: func() bool {
				if sub, ok := c.subs[id]; ok {
					close(sub)
					delete(c.subs, id)
				}
				return true
			}})
		})
	}
}

// Snapshot returns the latest published snapshot.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// State returns the current state.
func (c *Controller) State() State {
	return c.Snapshot().State
}

// CanAddToCart reports whether checkout is available from the widget.
func (c *Controller) CanAddToCart() bool {
	return c.Snapshot().CanAddToCart()
}

// Frame returns the frame being tried on.
func (c *Controller) Frame() catalog.FrameSelection {
	return c.frame
}

// Session returns the session ID.
func (c *Controller) Session() string {
	return c.cfg.Session
}

// Done is closed once Teardown has completed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}
