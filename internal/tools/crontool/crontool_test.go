package crontool

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/cron"
	"github.com/sharphq/sharpbot/internal/tools"
)

func newTool(t *testing.T) *Tool {
	t.Helper()
	svc, err := cron.NewService(filepath.Join(t.TempDir(), "cron.json"), bus.New(4), nil)
	if err != nil {
		t.Fatal(err)
	}
	toolCtx := tools.NewContext()
	toolCtx.Set("telegram", "42")
	return &Tool{Service: svc, ToolCtx: toolCtx}
}

func TestAddListRemove(t *testing.T) {
	tool := newTool(t)
	ctx := context.Background()

	out, err := tool.Execute(ctx, map[string]any{
		"action": "add", "name": "standup", "schedule": "@daily", "prompt": "post the standup",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Job ID:") {
		t.Fatalf("add result: %q", out)
	}

	listing, err := tool.Execute(ctx, map[string]any{"action": "list"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(listing, "standup") || !strings.Contains(listing, "telegram:42") {
		t.Fatalf("listing: %q", listing)
	}

	jobs := tool.Service.Jobs()
	if _, err := tool.Execute(ctx, map[string]any{"action": "remove", "job_id": jobs[0].ID}); err != nil {
		t.Fatal(err)
	}
	listing, _ = tool.Execute(ctx, map[string]any{"action": "list"})
	if listing != "No scheduled jobs." {
		t.Fatalf("after remove: %q", listing)
	}
}

func TestAddValidation(t *testing.T) {
	tool := newTool(t)
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]any{"action": "add", "prompt": "x"}); err == nil {
		t.Fatal("missing schedule accepted")
	}
	if _, err := tool.Execute(ctx, map[string]any{
		"action": "add", "schedule": "bogus", "prompt": "x",
	}); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	if _, err := tool.Execute(ctx, map[string]any{"action": "nope"}); err == nil {
		t.Fatal("unknown action accepted")
	}
}
