package consult

import (
	"context"
	"log/slog"
	"strings"
)

// SystemPrompt steers the model towards a short eyewear consultation.
const SystemPrompt = `You are a helpful eyewear consultant. Ask natural questions about:
- Budget preferences
- Style preferences (classic, bold, vintage, modern)
- Face shape considerations
- Color preferences
- Lifestyle needs
Keep responses conversational and brief.`

// Consultant wraps a provider with the consultant persona.
type Consultant struct {
	provider Provider
	logger   *slog.Logger
}

// NewConsultant creates a consultant over p.
func NewConsultant(p Provider, logger *slog.Logger) *Consultant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consultant{provider: p, logger: logger.With("component", "consult")}
}

// Provider returns the underlying provider.
func (c *Consultant) Provider() Provider {
	return c.provider
}

// Reply streams the next assistant turn for history. notes, when not
// empty, is appended to the system prompt as what is already known about
// the shopper.
func (c *Consultant) Reply(ctx context.Context, history []Message, notes string) (Stream, error) {
	if err := ValidateHistory(history); err != nil {
		return nil, err
	}
	s, err := c.provider.Stream(ctx, c.request(history, notes))
	if err != nil {
		c.logger.Warn("chat reply failed", "turns", len(history), "error", err)
		return nil, err
	}
	return s, nil
}

func (c *Consultant) request(history []Message, notes string) *ChatRequest {
	system := SystemPrompt
	if notes = strings.TrimSpace(notes); notes != "" {
		system += "\n\nWhat we know about this shopper:\n" + notes
	}
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, NewSystemMessage(system))
	msgs = append(msgs, history...)
	return &ChatRequest{Messages: msgs}
}

// Collect drains s and returns the full text. s is closed.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk.Delta)
		if chunk.Done {
			return b.String(), nil
		}
	}
}
