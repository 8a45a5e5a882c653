// Package models holds the wire types shared between the bus, the agent
// loop, the tool layer, and channel adapters.
package models

import (
	"encoding/json"
	"time"
)

// Reserved channel names. Adapters register under their own names
// (telegram, slack, discord, ...); these two are owned by the runtime.
const (
	ChannelCLI    = "cli"
	ChannelSystem = "system"
)

// DefaultChatID is used for CLI-like contexts that have no native chat id.
const DefaultChatID = "direct"

// Role indicates the author of a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// InboundMessage is a unit of work from a channel adapter.
type InboundMessage struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"` // local file paths / asset ids
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// SessionKey returns the conversation identity for this message.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a unit of reply to deliver through a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// ToolCall is an LLM's request to invoke a named tool. Arguments arrive
// already decoded from the provider wire format.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON returns the arguments serialized for schema validation
// and for the provider wire format.
func (c ToolCall) ArgumentsJSON() json.RawMessage {
	if len(c.Arguments) == 0 {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(c.Arguments)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// ChatMessage is one conversational turn in a session transcript.
// Tool-role messages carry ToolCallID and Name referencing a call from
// the immediately preceding assistant message.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Session is the per-(channel, chat) conversation memory.
type Session struct {
	Key       string        `json:"key"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Append adds messages to the session log in order.
func (s *Session) Append(msgs ...ChatMessage) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// ToolDefinition is the function schema advertised to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
