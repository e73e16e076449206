package web

import (
	"errors"
	"io"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/capture"
	"github.com/teslashibe/go-tryon/pkg/catalog"
	"github.com/teslashibe/go-tryon/pkg/engine"
	"github.com/teslashibe/go-tryon/pkg/flow"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// maxPhotoBytes bounds uploaded selfies and inspiration photos.
const maxPhotoBytes = 8 << 20

func flowTopic(id string) string { return "flow:" + id }

// flowEntry is a shopper journey plus the camera it may hold.
type flowEntry struct {
	flow     *flow.Flow
	guard    *camera.Guard
	capturer *capture.Capturer

	mu       sync.Mutex
	lastStep flow.Step
	session  string
}

func (e *flowEntry) stepChanged(step flow.Step) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastStep == step {
		return false
	}
	e.lastStep = step
	return true
}

func (e *flowEntry) setSession(id string) {
	e.mu.Lock()
	e.session = id
	e.mu.Unlock()
}

func (e *flowEntry) sessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (s *Server) closeFlow(id string) bool {
	e, ok := s.flows.Pop(id)
	if !ok {
		return false
	}
	e.flow.Close()
	e.guard.Close()
	s.retire(e.guard)
	s.hub.CloseTopic(flowTopic(id))
	s.logger.Info("flow closed", "flow", id)
	return true
}

func (s *Server) lookupFlow(c *fiber.Ctx) (*flowEntry, error) {
	e, ok := s.flows.Get(c.Params("id"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "flow not found")
	}
	return e, nil
}

// flowError maps flow errors onto HTTP statuses.
func flowError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, flow.ErrWrongStep), errors.Is(err, flow.ErrNoSelection):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, flow.ErrUnknownOption),
		errors.Is(err, flow.ErrEmptyAnswer),
		errors.Is(err, flow.ErrInvalidRating):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return err
}

func (s *Server) handleCatalog(c *fiber.Ctx) error {
	if style := c.Query("style"); style != "" {
		return c.JSON(s.cfg.Catalog.Recommend(style))
	}
	return c.JSON(s.cfg.Catalog.All())
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	frame, err := s.cfg.Catalog.Find(id)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(frame)
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	return c.JSON(engine.Models())
}

func (s *Server) handleQuestions(c *fiber.Ctx) error {
	return c.JSON(flow.Questions())
}

func (s *Server) handleNewFlow(c *fiber.Ctx) error {
	guard := camera.NewGuard(s.cfg.Device, s.cfg.Logger)
	e := &flowEntry{
		guard: guard,
		capturer: capture.New(guard,
			capture.WithConstraints(s.cfg.SelfieConstraints),
			capture.WithDetector(s.cfg.Detector),
			capture.WithLogger(s.cfg.Logger),
		),
	}

	opts := []flow.Option{
		flow.WithCatalog(s.cfg.Catalog),
		flow.WithLogger(s.cfg.Logger),
		flow.WithOnChange(func(v flow.View) {
			if e.stepChanged(v.Step) {
				s.cfg.Metrics.RecordStep(string(v.Step))
			}
			if err := s.hub.PublishJSON(flowTopic(v.ID), v); err != nil {
				s.logger.Warn("flow encode failed", "flow", v.ID, "error", err)
			}
		}),
	}
	if s.cfg.ProcessingDelay > 0 {
		opts = append(opts, flow.WithProcessingDelay(s.cfg.ProcessingDelay))
	}
	e.flow = flow.New(opts...)

	v := e.flow.View()
	e.stepChanged(v.Step)
	s.cfg.Metrics.RecordStep(string(v.Step))
	s.flows.Set(v.ID, e)
	_ = s.hub.PublishJSON(flowTopic(v.ID), v)

	s.logger.Info("flow opened", "flow", v.ID)
	return c.Status(fiber.StatusCreated).JSON(v)
}

func (s *Server) handleGetFlow(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	return c.JSON(e.flow.View())
}

func (s *Server) handleDeleteFlow(c *fiber.Ctx) error {
	if !s.closeFlow(c.Params("id")) {
		return fiber.NewError(fiber.StatusNotFound, "flow not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// uploadedPhoto reads the "photo" form file, if one was sent.
func uploadedPhoto(c *fiber.Ctx) (capture.Photo, bool, error) {
	fh, err := c.FormFile("photo")
	if err != nil {
		return capture.Photo{}, false, nil
	}
	if fh.Size > maxPhotoBytes {
		return capture.Photo{}, true, fiber.ErrRequestEntityTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return capture.Photo{}, true, fiber.NewError(fiber.StatusBadRequest, "unreadable photo")
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes))
	if err != nil || len(b) == 0 {
		return capture.Photo{}, true, fiber.NewError(fiber.StatusBadRequest, "unreadable photo")
	}
	return capture.FromJPEG(b), true, nil
}

// SelfieResult is the reply to a selfie capture. CameraError is set when
// the camera could not be used and the placeholder was taken instead.
type SelfieResult struct {
	Flow        flow.View `json:"flow"`
	CameraError string    `json:"camera_error,omitempty"`
}

// handleSelfie accepts an uploaded photo, or captures one from the camera
// when none is sent.
func (s *Server) handleSelfie(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}

	photo, uploaded, err := uploadedPhoto(c)
	if err != nil {
		return err
	}

	var res SelfieResult
	if !uploaded {
		if !e.flow.Bind(flow.StepSelfie, e.capturer.Stop) {
			return fiber.NewError(fiber.StatusConflict, flow.ErrWrongStep.Error())
		}
		var cerr error
		photo, cerr = e.capturer.Capture(c.UserContext())
		if cerr != nil {
			var ve *vto.Failure
			if errors.As(cerr, &ve) {
				res.CameraError = ve.Message()
			} else {
				res.CameraError = cerr.Error()
			}
			s.logger.Warn("selfie capture failed, using placeholder", "flow", e.flow.ID(), "error", cerr)
		}
	}

	if err := e.flow.SetSelfie(photo); err != nil {
		return flowError(err)
	}
	res.Flow = e.flow.View()
	return c.JSON(res)
}

// AnswerRequest answers the current question with an option or free text.
type AnswerRequest struct {
	Option string `json:"option,omitempty"`
	Text   string `json:"text,omitempty"`
}

func (s *Server) handleAnswer(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if req.Option != "" {
		err = e.flow.Answer(req.Option)
	} else {
		err = e.flow.SubmitText(req.Text)
	}
	if err != nil {
		return flowError(err)
	}
	return c.JSON(e.flow.View())
}

func (s *Server) handleInspiration(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	photo, uploaded, err := uploadedPhoto(c)
	if err != nil {
		return err
	}
	if !uploaded {
		return fiber.NewError(fiber.StatusBadRequest, "photo is required")
	}
	if err := e.flow.AttachInspiration(photo); err != nil {
		return flowError(err)
	}
	return c.JSON(e.flow.View())
}

// SelectResult is the reply to picking a frame: the flow and the try-on
// session opened for it.
type SelectResult struct {
	Flow    flow.View    `json:"flow"`
	Session vto.Snapshot `json:"session"`
}

// handleSelect picks a frame and opens its try-on session. The session is
// bound to the try-on step and torn down when the flow leaves it.
func (s *Server) handleSelect(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	frameID, err := parseID(c, "frame")
	if err != nil {
		return err
	}
	var req MountRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}

	frame, err := e.flow.Select(frameID)
	if err != nil {
		return flowError(err)
	}
	sess, err := s.openSession(frame, req, e.flow.ID())
	if err != nil {
		_ = e.flow.Back()
		return err
	}
	id := sess.id
	if !e.flow.Bind(flow.StepTryOn, func() { s.closeSession(id) }) {
		return fiber.NewError(fiber.StatusConflict, flow.ErrWrongStep.Error())
	}
	e.setSession(id)

	return c.JSON(SelectResult{Flow: e.flow.View(), Session: sess.ctrl.Snapshot()})
}

func (s *Server) handleBack(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	if err := e.flow.Back(); err != nil {
		return flowError(err)
	}
	return c.JSON(e.flow.View())
}

// handleCart adds the selected frame to the cart. It is refused only while
// the try-on widget is in Error; booting and demo fallback allow it.
func (s *Server) handleCart(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	if sess, ok := s.sessions.Get(e.sessionID()); ok && !sess.ctrl.CanAddToCart() {
		return fiber.NewError(fiber.StatusConflict, "try-on unavailable")
	}
	if err := e.flow.AddToCart(); err != nil {
		return flowError(err)
	}
	v := e.flow.View()
	if n := len(v.Cart); n > 0 {
		s.cfg.Metrics.RecordCart(v.Cart[n-1].Price)
	}
	return c.JSON(v)
}

// RatingRequest carries the 1-5 star rating.
type RatingRequest struct {
	Stars int `json:"stars"`
}

func (s *Server) handleRating(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	var req RatingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := e.flow.Rate(req.Stars); err != nil {
		return flowError(err)
	}
	return c.JSON(e.flow.View())
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	e, err := s.lookupFlow(c)
	if err != nil {
		return err
	}
	e.flow.Reset()
	e.setSession("")
	return c.JSON(e.flow.View())
}
