package spawn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/tools"
)

// oneShotProvider answers every chat with a fixed completion.
type oneShotProvider struct {
	reply string
}

func (p *oneShotProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Response, error) {
	return &agent.Response{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *oneShotProvider) ChatStream(ctx context.Context, req *agent.ChatRequest) (<-chan agent.StreamChunk, error) {
	ch := make(chan agent.StreamChunk, 1)
	resp, _ := p.Chat(ctx, req)
	ch <- agent.StreamChunk{Response: resp}
	close(ch)
	return ch, nil
}

func (p *oneShotProvider) DefaultModel() string { return "test-model" }
func (p *oneShotProvider) Name() string         { return "test" }

func TestSpawnReportsBackToOrigin(t *testing.T) {
	b := bus.New(4)
	sub, err := agent.NewSubagent(agent.SubagentOptions{
		Provider: &oneShotProvider{reply: "research complete"},
		Bus:      b,
	})
	if err != nil {
		t.Fatal(err)
	}
	toolCtx := tools.NewContext()
	toolCtx.Set("slack", "C9")
	tool := &Tool{Subagent: sub, ToolCtx: toolCtx}

	out, err := tool.Execute(context.Background(), map[string]any{
		"task": "summarize the release notes", "label": "release-notes",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `Subagent "release-notes" started`) {
		t.Fatalf("result: %q", out)
	}

	msg, ok := b.TryConsumeInbound(context.Background(), 2*time.Second)
	if !ok {
		t.Fatal("subagent never reported back")
	}
	if msg.Channel != "system" || msg.ChatID != "slack:C9" {
		t.Fatalf("routing: channel=%q chat=%q", msg.Channel, msg.ChatID)
	}
	if !strings.Contains(msg.Content, "research complete") {
		t.Fatalf("content: %q", msg.Content)
	}
}

func TestSpawnRequiresTask(t *testing.T) {
	tool := &Tool{ToolCtx: tools.NewContext()}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing task accepted")
	}
}
