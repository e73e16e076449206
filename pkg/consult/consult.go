// Package consult is the eyewear-consultant chat. It talks to any
// OpenAI-compatible chat completions API (OpenAI, Ollama, vLLM, Groq and
// the like) and streams replies back token by token.
//
// Example usage:
//
//	client, _ := consult.NewClient(
//	    consult.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	c := consult.NewConsultant(client)
//	stream, _ := c.Reply(ctx, []consult.Message{
//	    consult.NewUserMessage("I need something for the office"),
//	})
//	defer stream.Close()
package consult

import (
	"context"
	"time"
)

// Provider generates chat replies.
type Provider interface {
	// Chat generates a complete response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream generates a streaming response.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Health checks connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming response.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set ends the stream.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
}

// ChatRequest for chat completions.
type ChatRequest struct {
	Messages    []Message
	Model       string // overrides the default model
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	Latency      time.Duration
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
