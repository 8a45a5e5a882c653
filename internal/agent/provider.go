package agent

import (
	"context"
	"errors"

	"github.com/sharphq/sharpbot/pkg/models"
)

// ErrNoProvider is returned when the loop is run without an LLM provider.
var ErrNoProvider = errors.New("no LLM provider configured")

// Provider is the contract for LLM backends. Implementations must be
// safe for concurrent use; the main agent, subagents, and the compactor
// share one client.
type Provider interface {
	// Chat sends the conversation and returns the complete response.
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)

	// ChatStream sends the conversation and streams the response. The
	// returned channel is closed after the terminal chunk (Response set)
	// or an error chunk.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string

	// Name returns the provider name (openai, anthropic).
	Name() string
}

// ChatRequest contains the parameters for one LLM call.
type ChatRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Tools       []models.ToolDefinition
	MaxTokens   int
	Temperature float32
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's answer to one ChatRequest.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	ToolCalls    []models.ToolCall
}

// HasToolCalls reports whether the response requests tool execution.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// StreamChunk is one element of a streaming response. Exactly one of
// TextDelta, Response, or Err is meaningful per chunk; Response marks
// the terminal chunk.
type StreamChunk struct {
	TextDelta string
	Response  *Response
	Err       error
}
