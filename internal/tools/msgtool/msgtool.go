// Package msgtool lets the agent send a message to any chat without
// ending its turn, by publishing directly to the outbound queue.
package msgtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/tools"
	"github.com/sharphq/sharpbot/pkg/models"
)

// Tool publishes an OutboundMessage to the bus. The current turn's
// (channel, chatID) is the default target.
type Tool struct {
	Bus     *bus.Bus
	ToolCtx *tools.Context
}

func (t *Tool) Name() string { return "message" }

func (t *Tool) Description() string {
	return "Send a message to a chat. Defaults to the current conversation; set channel and chat_id to message elsewhere."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"text":    tools.StringProp("Message text to send"),
		"channel": tools.StringProp("Target channel (defaults to the current one)"),
		"chat_id": tools.StringProp("Target chat id (defaults to the current one)"),
	}, "text")
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}

	channel, chatID := t.ToolCtx.Get()
	if c, _ := args["channel"].(string); c != "" {
		channel = c
	}
	if c, _ := args["chat_id"].(string); c != "" {
		chatID = c
	}
	if channel == "" {
		return "", fmt.Errorf("no target channel; pass channel and chat_id")
	}
	if chatID == "" {
		chatID = models.DefaultChatID
	}

	err := t.Bus.PublishOutbound(ctx, &models.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: text,
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
