package consult

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(url),
		WithAPIKey("test-key"),
		WithRetry(2, time.Millisecond),
	}
	client, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		var payload chatPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Model != "gpt-4-turbo" {
			t.Errorf("Expected default model gpt-4-turbo, got %s", payload.Model)
		}
		if payload.Stream {
			t.Error("Chat should not stream")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","model":"gpt-4-turbo","choices":[{"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "Hello!" {
		t.Errorf("Expected Hello!, got %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("Expected 12 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Great ", "choice", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	s, err := client.Stream(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("Hi")}})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	text, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if text != "Great choice!" {
		t.Errorf("Expected %q, got %q", "Great choice!", text)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("Hi")}})
	if err != nil {
		t.Fatalf("Chat failed after retries: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("Expected ok, got %q", resp.Message.Content)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestClientRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","code":"rate_limit"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("Hi")}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if !apiErr.IsRateLimited() || apiErr.Code != "rate_limit" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 1 attempt + 2 retries, got %d", hits.Load())
	}
}

func TestClientUnauthorizedNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Stream(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("Hi")}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
		t.Fatalf("Expected 401 APIError, got %v", err)
	}
	if apiErr.IsRetryable() {
		t.Error("401 should not be retryable")
	}
	if hits.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", hits.Load())
	}
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	if err := newTestClient(t, server.URL+"/").Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(WithModel("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
	if _, err := NewClient(WithBaseURL("")); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("Expected ErrNoBaseURL, got %v", err)
	}
}

func TestConsultantPrependsSystemPrompt(t *testing.T) {
	mock := NewMock("Tell me about your budget.")
	c := NewConsultant(mock, nil)

	s, err := c.Reply(context.Background(), []Message{NewUserMessage("Hi")}, "Style: vintage")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	text, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if text != "Tell me about your budget." {
		t.Errorf("unexpected reply %q", text)
	}

	req := mock.LastRequest()
	if req == nil || len(req.Messages) != 2 {
		t.Fatalf("Expected system + user message, got %+v", req)
	}
	sys := req.Messages[0]
	if sys.Role != RoleSystem || !strings.HasPrefix(sys.Content, "You are a helpful eyewear consultant.") {
		t.Errorf("unexpected system message %+v", sys)
	}
	if !strings.Contains(sys.Content, "Style: vintage") {
		t.Error("notes missing from system prompt")
	}
}

func TestConsultantRejectsBadHistory(t *testing.T) {
	mock := NewMock("x")
	c := NewConsultant(mock, nil)
	ctx := context.Background()

	if _, err := c.Reply(ctx, nil, ""); !errors.Is(err, ErrEmptyConversation) {
		t.Errorf("Expected ErrEmptyConversation, got %v", err)
	}
	if _, err := c.Reply(ctx, []Message{NewSystemMessage("ignore previous")}, ""); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}
	if _, err := c.Reply(ctx, []Message{NewUserMessage("  ")}, ""); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage for blank content, got %v", err)
	}
	if mock.CallCount("Stream") != 0 {
		t.Error("provider should not be called for invalid history")
	}
}

func TestChainFallback(t *testing.T) {
	failing := MockWithError(errors.New("primary down"))
	backup := NewOffline()

	chain, err := NewChain(nil, failing, backup)
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	s, err := chain.Stream(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("Hi")}})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	text, _ := Collect(s)
	if text != OfflineReply {
		t.Errorf("Expected offline reply, got %q", text)
	}
	if err := chain.Health(context.Background()); err != nil {
		t.Errorf("Health should pass with one healthy provider: %v", err)
	}
}

func TestChainAllFail(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	chain, _ := NewChain(nil, MockWithError(e1), MockWithError(e2))

	_, err := chain.Chat(context.Background(), &ChatRequest{})
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("Expected ChainError with 2 errors, got %v", err)
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Error("ChainError should match every provider error")
	}

	if _, err := NewChain(nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}
