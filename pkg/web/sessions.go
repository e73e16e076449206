package web

import (
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/engine"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// Default widget surface when the client does not report one.
const (
	defaultSurfaceWidth  = 480
	defaultSurfaceHeight = 640
)

func sessionTopic(id string) string { return "tryon:" + id }

// session is one mounted try-on widget with its own camera guard.
type session struct {
	id     string
	ctrl   *vto.Controller
	guard  *camera.Guard
	flowID string
	once   sync.Once
}

// MountRequest is the body of POST /api/tryon.
type MountRequest struct {
	FrameID int    `json:"frame_id"`
	Model   string `json:"model,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

func (r MountRequest) layout(id string) vto.FixedLayout {
	w, h := r.Width, r.Height
	if w == 0 && h == 0 {
		w, h = defaultSurfaceWidth, defaultSurfaceHeight
	}
	return vto.FixedLayout{
		Placeholder: engine.Surface{ID: "placeholder-" + id, Width: w, Height: h},
		Canvas:      engine.Surface{ID: "canvas-" + id, Width: w, Height: h},
	}
}

// openSession creates, wires and mounts a controller for frame.
func (s *Server) openSession(frame catalog.FrameSelection, req MountRequest, flowID string) (*session, error) {
	if req.Model != "" {
		if _, ok := engine.LookupModel(req.Model); !ok {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown model "+req.Model)
		}
	}

	id := uuid.New().String()
	guard := camera.NewGuard(s.cfg.Device, s.cfg.Logger)

	opts := []vto.Option{
		vto.WithSession(id),
		vto.WithLoader(s.cfg.Loader),
		vto.WithGuard(guard, s.cfg.TryOnConstraints),
		vto.WithRunner(vto.RunnerFunc(s.pool.Submit)),
		vto.WithObserver(s.cfg.Metrics),
		vto.WithLogger(s.cfg.Logger),
	}
	opts = append(opts, s.cfg.SessionOptions...)
	if req.Model != "" {
		opts = append(opts, vto.WithModel(req.Model))
	}

	ctrl, err := vto.New(frame, opts...)
	if err != nil {
		guard.Close()
		return nil, err
	}

	sess := &session{id: id, ctrl: ctrl, guard: guard, flowID: flowID}
	s.sessions.Set(id, sess)
	s.cfg.Metrics.SessionOpened()

	snaps, _ := ctrl.Subscribe()
	go func() {
		topic := sessionTopic(id)
		for snap := range snaps {
			if err := s.hub.PublishJSON(topic, snap); err != nil {
				s.logger.Warn("snapshot encode failed", "session", id, "error", err)
			}
		}
	}()

	ctrl.Mount(req.layout(id))
	s.logger.Info("try-on session opened", "session", id, "frame", frame.ID, "flow", flowID)
	return sess, nil
}

// closeSession tears a session down. It is safe to call repeatedly.
func (s *Server) closeSession(id string) bool {
	sess, ok := s.sessions.Pop(id)
	if !ok {
		return false
	}
	sess.once.Do(func() {
		last := sess.ctrl.State()
		sess.ctrl.Teardown()
		sess.guard.Close()
		s.retire(sess.guard)
		s.hub.CloseTopic(sessionTopic(id))
		s.cfg.Metrics.SessionClosed(last)
		s.logger.Info("try-on session closed", "session", id, "last_state", last.String())
	})
	return true
}

func (s *Server) lookupSession(c *fiber.Ctx) (*session, error) {
	sess, ok := s.sessions.Get(c.Params("id"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	return sess, nil
}

// handleNewSession opens a standalone try-on session.
func (s *Server) handleNewSession(c *fiber.Ctx) error {
	var req MountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	frame, err := s.cfg.Catalog.Find(req.FrameID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	sess, err := s.openSession(frame, req, "")
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sess.ctrl.Snapshot())
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, err := s.lookupSession(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.ctrl.Snapshot())
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if !s.closeSession(c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// OpResult is the reply to a widget operation.
type OpResult struct {
	Accepted bool         `json:"accepted"`
	Snapshot vto.Snapshot `json:"snapshot"`
}

// sessionOp runs a controller operation. Rejected operations are soft
// no-ops, so they still answer 200 with accepted=false.
func (s *Server) sessionOp(op func(*vto.Controller) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := s.lookupSession(c)
		if err != nil {
			return err
		}
		ok := op(sess.ctrl)
		return c.JSON(OpResult{Accepted: ok, Snapshot: sess.ctrl.Snapshot()})
	}
}

// ModelRequest is the body of POST /api/tryon/:id/model.
type ModelRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleSwitchModel(c *fiber.Ctx) error {
	var req ModelRequest
	if err := c.BodyParser(&req); err != nil || req.Model == "" {
		return fiber.NewError(fiber.StatusBadRequest, "model is required")
	}
	if _, ok := engine.LookupModel(req.Model); !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown model "+req.Model)
	}
	return s.sessionOp(func(ctrl *vto.Controller) bool { return ctrl.SwitchModel(req.Model) })(c)
}

func parseID(c *fiber.Ctx, name string) (int, error) {
	n, err := strconv.Atoi(c.Params(name))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
