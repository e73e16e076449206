package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-tryon/pkg/consult"
	"github.com/teslashibe/go-tryon/pkg/flow"
	"github.com/teslashibe/go-tryon/pkg/hub"
)

// chatTimeout bounds one streamed consultant reply.
const chatTimeout = 60 * time.Second

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []consult.Message `json:"messages"`
	FlowID   string            `json:"flow_id,omitempty"`
}

// shopperNotes summarises what a flow already knows for the consultant.
func shopperNotes(v flow.View) string {
	var b strings.Builder
	add := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}
	add("Budget", v.Preferences.Budget)
	add("Style", v.Preferences.Style)
	add("Face shape", v.Preferences.FaceShape)
	add("Environment", v.Extended.Environment)
	add("Screen time", v.Extended.ScreenTime)
	add("Driving", v.Extended.Driving)
	add("Specific needs", v.Extended.SpecificNeeds)
	return b.String()
}

// handleChat streams the consultant's reply as server-sent events. Each
// event carries a StreamChunk; the last one has done set.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	var notes string
	if req.FlowID != "" {
		e, ok := s.flows.Get(req.FlowID)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "flow not found")
		}
		notes = shopperNotes(e.flow.View())
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	stream, err := s.cfg.Consultant.Reply(ctx, req.Messages, notes)
	if err != nil {
		cancel()
		if errors.Is(err, consult.ErrEmptyConversation) || errors.Is(err, consult.ErrInvalidMessage) {
			s.cfg.Metrics.RecordChat("invalid", time.Since(start))
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		s.cfg.Metrics.RecordChat("error", time.Since(start))
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		status := "ok"
		defer func() { s.cfg.Metrics.RecordChat(status, time.Since(start)) }()

		for {
			chunk, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					status = "error"
					s.logger.Warn("chat stream failed", "error", err)
					writeEvent(w, "error", fiber.Map{"error": err.Error()})
				}
				writeEvent(w, "", consult.StreamChunk{Done: true})
				return
			}
			if err := writeEvent(w, "", chunk); err != nil {
				status = "aborted"
				return
			}
			if chunk.Done {
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// handleFeed upgrades to a websocket that follows the topic of the
// session or flow named by :id. The latest message is replayed on join.
func (s *Server) handleFeed(topic func(string) string, exists func(string) bool) fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		id := conn.Params("id")
		client := hub.NewClient(s.hub, conn, topic(id))
		if client == nil {
			conn.Close()
			return
		}
		client.Run()
	})
	return func(c *fiber.Ctx) error {
		if !exists(c.Params("id")) {
			return fiber.NewError(fiber.StatusNotFound, "not found")
		}
		return upgrade(c)
	}
}
