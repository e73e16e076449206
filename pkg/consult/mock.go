package consult

import (
	"context"
	"strings"
	"sync"
)

// Mock implements Provider for tests and offline demos.
type Mock struct {
	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamFunc is called when Stream is invoked. When nil, Stream splits
	// the ChatFunc reply into word chunks.
	StreamFunc func(ctx context.Context, req *ChatRequest) (Stream, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	calls    map[string]int
	requests []*ChatRequest
}

// NewMock returns a mock that always replies with text.
func NewMock(text string) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message:      NewAssistantMessage(text),
				FinishReason: "stop",
			}, nil
		},
	}
}

// MockWithError returns a mock that always fails with err.
func MockWithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
		StreamFunc: func(ctx context.Context, req *ChatRequest) (Stream, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// OfflineReply is what the offline consultant says.
const OfflineReply = "I'd love to help you find the perfect frames! " +
	"What's your budget range, and do you lean towards classic, bold, vintage or modern styles?"

// NewOffline returns the provider used when no API key is configured.
func NewOffline() *Mock {
	return NewMock(OfflineReply)
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record("Chat", req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	m.record("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	if m.ChatFunc != nil {
		resp, err := m.ChatFunc(ctx, req)
		if err != nil {
			return nil, err
		}
		return NewSliceStream(strings.SplitAfter(resp.Message.Content, " ")...), nil
	}
	return nil, WrapError("mock", ErrProviderUnavailable)
}

// Health calls HealthFunc.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close does nothing.
func (m *Mock) Close() error {
	return nil
}

func (m *Mock) record(method string, req *ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
	if req != nil {
		m.requests = append(m.requests, req)
	}
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// LastRequest returns the most recent request, or nil.
func (m *Mock) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// sliceStream replays fixed deltas.
type sliceStream struct {
	mu     sync.Mutex
	deltas []string
	closed bool
}

// NewSliceStream returns a stream that yields each delta then finishes.
func NewSliceStream(deltas ...string) Stream {
	return &sliceStream{deltas: deltas}
}

func (s *sliceStream) Recv() (*StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.deltas) == 0 {
		return &StreamChunk{Done: true, FinishReason: "stop"}, nil
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return &StreamChunk{Delta: d}, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ Provider = (*Mock)(nil)
