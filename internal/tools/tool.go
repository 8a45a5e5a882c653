// Package tools defines the tool contract and the registry the agent
// loop executes against.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sharphq/sharpbot/pkg/models"
)

// Tool is an executable capability advertised to the LLM.
type Tool interface {
	// Name returns the unique tool name (alphanumeric, underscores).
	Name() string

	// Description explains what the tool does, for the LLM.
	Description() string

	// Schema returns the JSON schema for the tool's argument object.
	Schema() json.RawMessage

	// Execute runs the tool. Arguments match Schema. The returned string
	// is the result text shown to the LLM; an error is captured by the
	// registry as "Error: …" result text rather than aborting the turn.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Context carries the originating (channel, chatID) for context-bearing
// tools (message, spawn, cron). The agent loop updates it at the start
// of each turn; tools read it for default targets.
type Context struct {
	mu      sync.RWMutex
	channel string
	chatID  string
}

// NewContext creates an empty tool context.
func NewContext() *Context { return &Context{} }

// Set updates the current (channel, chatID).
func (c *Context) Set(channel, chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel, c.chatID = channel, chatID
}

// Get returns the current (channel, chatID).
func (c *Context) Get() (channel, chatID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel, c.chatID
}

// ObjectSchema builds a JSON-schema object from property definitions.
// Helper shared by the builtin tools.
func ObjectSchema(properties map[string]any, required ...string) json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// StringProp builds a string property definition.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Definition converts a tool into the schema envelope sent to the LLM.
func Definition(t Tool) models.ToolDefinition {
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}
