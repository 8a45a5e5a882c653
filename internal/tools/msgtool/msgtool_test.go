package msgtool

import (
	"context"
	"testing"
	"time"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/tools"
)

func TestSendsToCurrentConversation(t *testing.T) {
	b := bus.New(4)
	toolCtx := tools.NewContext()
	toolCtx.Set("telegram", "42")
	tool := &Tool{Bus: b, ToolCtx: toolCtx}

	out, err := tool.Execute(context.Background(), map[string]any{"text": "on my way"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Message sent to telegram:42" {
		t.Fatalf("result: %q", out)
	}

	msg, ok := b.TryConsumeOutbound(context.Background(), time.Second)
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "on my way" {
		t.Fatalf("message: %+v", msg)
	}
}

func TestExplicitTargetOverridesContext(t *testing.T) {
	b := bus.New(4)
	toolCtx := tools.NewContext()
	toolCtx.Set("cli", "direct")
	tool := &Tool{Bus: b, ToolCtx: toolCtx}

	if _, err := tool.Execute(context.Background(), map[string]any{
		"text": "heads up", "channel": "slack", "chat_id": "C123",
	}); err != nil {
		t.Fatal(err)
	}
	msg, _ := b.TryConsumeOutbound(context.Background(), time.Second)
	if msg.Channel != "slack" || msg.ChatID != "C123" {
		t.Fatalf("target: %+v", msg)
	}
}

func TestRequiresTextAndTarget(t *testing.T) {
	tool := &Tool{Bus: bus.New(4), ToolCtx: tools.NewContext()}

	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing text accepted")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"text": "hi"}); err == nil {
		t.Fatal("missing target accepted")
	}
}
