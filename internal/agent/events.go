package agent

import "time"

// StreamEvent types emitted by ProcessStream.
const (
	EventTextDelta = "text_delta"
	EventToolStart = "tool_start"
	EventToolEnd   = "tool_end"
	EventStatus    = "status"
	EventCompleted = "completed"
)

// StreamEvent is one incremental update of a streaming turn.
type StreamEvent struct {
	Type string

	// Delta is set for text_delta events.
	Delta string

	// ToolName is set for tool_start and tool_end.
	ToolName string

	// ToolResult is set for tool_end.
	ToolResult string

	// Status is a human-readable progress note.
	Status string

	// Content and Stats are set on the terminal completed event.
	Content string
	Stats   Telemetry
}

// Telemetry summarizes one agent turn.
type Telemetry struct {
	SessionKey       string
	Channel          string
	Model            string
	Iterations       int
	ToolCalls        int
	PromptTokens     int
	CompletionTokens int
	Compactions      int
	Duration         time.Duration
	Failed           bool
	MaxedOut         bool
}
