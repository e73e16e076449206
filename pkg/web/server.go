// Package web serves the shopping flow, try-on sessions, the consultant
// chat and operational endpoints over HTTP and websockets.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/consult"
	"github.com/teslashibe/go-tryon/pkg/engine"
	"github.com/teslashibe/go-tryon/pkg/face"
	"github.com/teslashibe/go-tryon/pkg/hub"
	"github.com/teslashibe/go-tryon/pkg/metrics"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// Config holds server collaborators. Zero values get working defaults.
type Config struct {
	Catalog *catalog.Catalog

	// Camera. Each flow and try-on session gets its own guard over Device.
	Device            camera.Device
	TryOnConstraints  camera.Constraints
	SelfieConstraints camera.Constraints
	Detector          face.Detector

	// Try-on
	Loader         *engine.Loader
	SessionOptions []vto.Option
	Workers        int

	ProcessingDelay time.Duration
	Consultant      *consult.Consultant
	Metrics         *metrics.Metrics

	// StaticDir, when set, is served at /.
	StaticDir string
	Logger    *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	flows    cmap.ConcurrentMap[string, *flowEntry]
	sessions cmap.ConcurrentMap[string, *session]

	hub    *hub.Hub
	pool   *ants.Pool
	health healthcheck.Handler

	// retired keeps the counters of closed guards so totals never drop.
	retiredMu sync.Mutex
	retired   camera.GuardStats

	cancel context.CancelFunc
}

// New builds the server and starts its hub.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Device == nil {
		cfg.Device = camera.NewMockDevice(cfg.Logger)
	}
	if cfg.TryOnConstraints.Width == 0 {
		cfg.TryOnConstraints = camera.TryOnConstraints()
	}
	if cfg.SelfieConstraints.Width == 0 {
		cfg.SelfieConstraints = camera.DefaultConstraints()
	}
	if cfg.Loader == nil {
		cfg.Loader = engine.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}
	if cfg.Consultant == nil {
		cfg.Consultant = consult.NewConsultant(consult.NewOffline(), cfg.Logger)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("")
	}

	logger := cfg.Logger.With("component", "web")
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("boot task panicked", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("web: worker pool: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		flows:    cmap.New[*flowEntry](),
		sessions: cmap.New[*session](),
		hub:      hub.New("tryon", cfg.Logger),
		pool:     pool,
		health:   healthcheck.NewHandler(),
	}

	s.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	s.health.AddReadinessCheck("hub", func() error {
		if !s.hub.IsRunning() {
			return errors.New("hub not running")
		}
		return nil
	})
	s.health.AddReadinessCheck("workers", func() error {
		if s.pool.IsClosed() {
			return errors.New("worker pool closed")
		}
		return nil
	})

	s.cfg.Metrics.WatchGuard("", "all", s.guardStats)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)

	s.app = s.routes()
	return s, nil
}

// retire folds a closed guard's counters into the running totals.
func (s *Server) retire(g *camera.Guard) {
	st := g.Stats()
	s.retiredMu.Lock()
	s.retired.Acquired += st.Acquired
	s.retired.Failed += st.Failed
	s.retiredMu.Unlock()
}

// guardStats sums the camera guards of every live session and flow.
func (s *Server) guardStats() camera.GuardStats {
	s.retiredMu.Lock()
	total := s.retired
	s.retiredMu.Unlock()
	add := func(st camera.GuardStats) {
		total.Acquired += st.Acquired
		total.Failed += st.Failed
		total.ActiveTracks += st.ActiveTracks
	}
	for _, sess := range s.sessions.Items() {
		add(sess.guard.Stats())
	}
	for _, e := range s.flows.Items() {
		add(e.guard.Stats())
	}
	return total
}

func (s *Server) routes() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "FrameFinder",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/live", adaptor.HTTPHandler(s.health))
	app.Get("/ready", adaptor.HTTPHandler(s.health))
	app.Get("/metrics", adaptor.HTTPHandler(s.cfg.Metrics.Handler()))

	api := app.Group("/api")
	api.Get("/catalog", s.handleCatalog)
	api.Get("/catalog/:id", s.handleFrame)
	api.Get("/models", s.handleModels)
	api.Get("/questions", s.handleQuestions)

	api.Post("/flow", s.handleNewFlow)
	api.Get("/flow/:id", s.handleGetFlow)
	api.Delete("/flow/:id", s.handleDeleteFlow)
	api.Post("/flow/:id/selfie", s.handleSelfie)
	api.Post("/flow/:id/answer", s.handleAnswer)
	api.Post("/flow/:id/inspiration", s.handleInspiration)
	api.Post("/flow/:id/select/:frame", s.handleSelect)
	api.Post("/flow/:id/back", s.handleBack)
	api.Post("/flow/:id/cart", s.handleCart)
	api.Post("/flow/:id/rating", s.handleRating)
	api.Post("/flow/:id/reset", s.handleReset)

	api.Post("/tryon", s.handleNewSession)
	api.Get("/tryon/:id", s.handleGetSession)
	api.Delete("/tryon/:id", s.handleDeleteSession)
	api.Post("/tryon/:id/adjust/enter", s.sessionOp(func(c *vto.Controller) bool { return c.EnterAdjustMode() }))
	api.Post("/tryon/:id/adjust/exit", s.sessionOp(func(c *vto.Controller) bool { return c.ExitAdjustMode() }))
	api.Post("/tryon/:id/retry", s.sessionOp(func(c *vto.Controller) bool { return c.Retry() }))
	api.Post("/tryon/:id/demo", s.sessionOp(func(c *vto.Controller) bool { return c.RequestDemoFallback() }))
	api.Post("/tryon/:id/demo/exit", s.sessionOp(func(c *vto.Controller) bool { return c.ExitDemoFallback() }))
	api.Post("/tryon/:id/model", s.handleSwitchModel)

	api.Post("/chat", s.handleChat)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/tryon/:id", s.handleFeed(sessionTopic, s.sessions.Has))
	app.Get("/ws/flow/:id", s.handleFeed(flowTopic, s.flows.Has))

	if s.cfg.StaticDir != "" {
		app.Static("/", s.cfg.StaticDir)
	}
	return app
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the snapshot hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown tears down every session and flow, then stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, id := range s.sessions.Keys() {
		s.closeSession(id)
	}
	for _, id := range s.flows.Keys() {
		s.closeFlow(id)
	}

	err := s.app.ShutdownWithContext(ctx)
	s.cancel()
	<-s.hub.Done()
	if perr := s.pool.ReleaseTimeout(5 * time.Second); perr != nil {
		s.logger.Warn("worker pool release timed out", "error", perr)
	}
	return err
}

// handleError renders errors as JSON.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
