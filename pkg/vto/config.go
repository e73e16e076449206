package vto

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/engine"
)

// Observer receives lifecycle notifications on the controller loop.
// Implementations must not block.
type Observer interface {
	StateChanged(session string, from, to State)
	Failed(session string, err *Failure)
	Retried(session string, count int, delay time.Duration)
}

// Config holds controller configuration and collaborators.
type Config struct {
	// Timing
	SettleDelay  time.Duration // before the surface is measured
	ReadySettle  time.Duration // after the engine reports ready
	ReadyTimeout time.Duration // readiness poll bound

	Retry RetryPolicy

	// Engine start
	ModelID     string
	SearchImage engine.SearchImage

	// Camera; Guard may be nil when the engine manages the camera itself.
	Guard       *camera.Guard
	Constraints camera.Constraints

	// Collaborators
	Loader    *engine.Loader
	Poller    *engine.Poller
	Scheduler Scheduler
	Runner    Runner
	Observer  Observer

	Session string
	Logger  *slog.Logger
}

// Option is a functional option for configuring a controller.
type Option func(*Config)

// WithSettleDelay sets the pre-boot settle delay.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) { c.SettleDelay = d }
}

// WithReadySettle sets the delay between the engine's ready callback and
// the Ready state.
func WithReadySettle(d time.Duration) Option {
	return func(c *Config) { c.ReadySettle = d }
}

// WithReadyTimeout bounds readiness polling.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadyTimeout = d }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Config) { c.Retry = p }
}

// WithModel sets the model loaded at start.
func WithModel(id string) Option {
	return func(c *Config) { c.ModelID = id }
}

// WithGuard makes the controller acquire the camera before starting the
// engine.
func WithGuard(g *camera.Guard, constraints camera.Constraints) Option {
	return func(c *Config) {
		c.Guard = g
		c.Constraints = constraints
	}
}

// WithLoader sets the engine loader. Defaults to engine.Default().
func WithLoader(l *engine.Loader) Option {
	return func(c *Config) { c.Loader = l }
}

// WithPoller sets the readiness poller.
func WithPoller(p *engine.Poller) Option {
	return func(c *Config) { c.Poller = p }
}

// WithScheduler sets the timer source.
func WithScheduler(s Scheduler) Option {
	return func(c *Config) { c.Scheduler = s }
}

// WithRunner sets where blocking boot steps run.
func WithRunner(r Runner) Option {
	return func(c *Config) { c.Runner = r }
}

// WithObserver registers lifecycle hooks.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// WithSession tags snapshots and logs with id.
func WithSession(id string) Option {
	return func(c *Config) { c.Session = id }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		SettleDelay:  500 * time.Millisecond,
		ReadySettle:  500 * time.Millisecond,
		ReadyTimeout: 10 * time.Second,
		Retry:        DefaultRetryPolicy(),
		ModelID:      engine.DefaultModelID,
		SearchImage:  engine.DefaultSearchImage(),
		Constraints:  camera.TryOnConstraints(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config and fills unset collaborators.
func (c *Config) Validate() error {
	if c.SettleDelay < 0 || c.ReadySettle < 0 {
		return errors.New("vto: settle delays must be >= 0")
	}
	if c.ReadyTimeout <= 0 {
		return errors.New("vto: ready timeout must be > 0")
	}
	if c.Retry.Max < 0 {
		return errors.New("vto: max retries must be >= 0")
	}
	if c.Retry.Initial <= 0 || c.Retry.Ceiling < c.Retry.Initial {
		return errors.New("vto: retry backoff must satisfy 0 < initial <= ceiling")
	}
	if c.Retry.Multiple < 1 {
		c.Retry.Multiple = 2
	}
	if c.ModelID == "" {
		c.ModelID = engine.DefaultModelID
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Loader == nil {
		c.Loader = engine.Default()
	}
	if c.Poller == nil {
		c.Poller = engine.NewPoller(engine.DefaultPollInterval, c.Logger)
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler()
	}
	if c.Runner == nil {
		c.Runner = GoRunner()
	}
	return nil
}
