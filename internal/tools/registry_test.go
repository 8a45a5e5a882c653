package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type fakeTool struct {
	name   string
	schema json.RawMessage
	fn     func(ctx context.Context, args map[string]any) (string, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "test tool" }
func (t *fakeTool) Schema() json.RawMessage {
	if t.schema != nil {
		return t.schema
	}
	return json.RawMessage(`{"type":"object"}`)
}
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

func TestRegisterReplaceKeepsCount(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo", fn: func(context.Context, map[string]any) (string, error) {
		return "v1", nil
	}})
	r.Register(&fakeTool{name: "echo", fn: func(context.Context, map[string]any) (string, error) {
		return "v2", nil
	}})

	if r.Count() != 1 {
		t.Fatalf("count after re-register: %d", r.Count())
	}
	if got := r.Execute(context.Background(), "echo", nil); got != "v2" {
		t.Fatalf("latest registration should win, got %q", got)
	}
}

func TestExecuteWrapsErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "boom", fn: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("kaput")
	}})

	got := r.Execute(context.Background(), "boom", nil)
	if got != "Error: kaput" {
		t.Fatalf("error not captured as result text: %q", got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	got := r.Execute(context.Background(), "missing", nil)
	if !strings.HasPrefix(got, "Error: tool not found") {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{
		name:   "strict",
		schema: ObjectSchema(map[string]any{"command": StringProp("cmd")}, "command"),
		fn: func(_ context.Context, args map[string]any) (string, error) {
			return args["command"].(string), nil
		},
	})

	if got := r.Execute(context.Background(), "strict", map[string]any{}); !strings.HasPrefix(got, "Error: invalid arguments") {
		t.Fatalf("missing required arg not rejected: %q", got)
	}
	if got := r.Execute(context.Background(), "strict", map[string]any{"command": "ls"}); got != "ls" {
		t.Fatalf("valid args rejected: %q", got)
	}
}

func TestDefinitionsSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&fakeTool{name: name, fn: func(context.Context, map[string]any) (string, error) {
			return "", nil
		}})
	}

	defs := r.Definitions()
	want := []string{"alpha", "mid", "zeta"}
	if len(defs) != len(want) {
		t.Fatalf("definitions: %d", len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Fatalf("order at %d: %q, want %q", i, defs[i].Name, name)
		}
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "gone", fn: func(context.Context, map[string]any) (string, error) {
		return "", nil
	}})
	r.Unregister("gone")
	if r.Has("gone") {
		t.Fatal("tool still present after unregister")
	}
}

func TestToolContext(t *testing.T) {
	tc := NewContext()
	tc.Set("telegram", "42")
	channel, chatID := tc.Get()
	if channel != "telegram" || chatID != "42" {
		t.Fatalf("context round trip: %s %s", channel, chatID)
	}
}
