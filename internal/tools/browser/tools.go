package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/tools"
)

// NavigateTool loads a URL.
type NavigateTool struct{ Manager *Manager }

func (t *NavigateTool) Name() string        { return "browser_navigate" }
func (t *NavigateTool) Description() string { return "Open a URL in the browser." }

func (t *NavigateTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"url": tools.StringProp("URL to open"),
	}, "url")
}

func (t *NavigateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	title, err := t.Manager.Navigate(ctx, url)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opened %s (%s)", url, title), nil
}

// SnapshotTool returns the page text plus ref-tagged interactive
// elements; the refs feed browser_click and browser_type.
type SnapshotTool struct{ Manager *Manager }

func (t *SnapshotTool) Name() string { return "browser_snapshot" }

func (t *SnapshotTool) Description() string {
	return "Capture the current page as text with ref-tagged interactive elements (e1, e2, …) usable with browser_click and browser_type."
}

func (t *SnapshotTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{})
}

func (t *SnapshotTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.Manager.Snapshot(ctx)
}

// ClickTool clicks an element.
type ClickTool struct{ Manager *Manager }

func (t *ClickTool) Name() string        { return "browser_click" }
func (t *ClickTool) Description() string { return "Click an element by snapshot ref or CSS selector." }

func (t *ClickTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"target": tools.StringProp("Snapshot ref (e3) or CSS selector"),
	}, "target")
}

func (t *ClickTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, _ := args["target"].(string)
	if target == "" {
		return "", fmt.Errorf("target is required")
	}
	if err := t.Manager.Click(ctx, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("Clicked %s", target), nil
}

// TypeTool fills a form field.
type TypeTool struct{ Manager *Manager }

func (t *TypeTool) Name() string { return "browser_type" }

func (t *TypeTool) Description() string {
	return "Type text into a field by snapshot ref or CSS selector; optionally submit with Enter."
}

func (t *TypeTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"target": tools.StringProp("Snapshot ref or CSS selector"),
		"text":   tools.StringProp("Text to type"),
		"submit": map[string]any{"type": "boolean", "description": "Press Enter after typing"},
	}, "target", "text")
}

func (t *TypeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, _ := args["target"].(string)
	text, _ := args["text"].(string)
	if target == "" || text == "" {
		return "", fmt.Errorf("target and text are required")
	}
	submit, _ := args["submit"].(bool)
	if err := t.Manager.Type(ctx, target, text, submit); err != nil {
		return "", err
	}
	return fmt.Sprintf("Typed into %s", target), nil
}

// SelectTool picks a value in a select element.
type SelectTool struct{ Manager *Manager }

func (t *SelectTool) Name() string        { return "browser_select" }
func (t *SelectTool) Description() string { return "Choose an option value in a select element." }

func (t *SelectTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"target": tools.StringProp("Snapshot ref or CSS selector"),
		"value":  tools.StringProp("Option value to select"),
	}, "target", "value")
}

func (t *SelectTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	target, _ := args["target"].(string)
	value, _ := args["value"].(string)
	if target == "" || value == "" {
		return "", fmt.Errorf("target and value are required")
	}
	if err := t.Manager.Select(ctx, target, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Selected %q in %s", value, target), nil
}

// PressTool sends a key to the page.
type PressTool struct{ Manager *Manager }

func (t *PressTool) Name() string        { return "browser_press" }
func (t *PressTool) Description() string { return "Press a key (Enter, Tab, Escape, …) in the browser." }

func (t *PressTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"key": tools.StringProp("Key name to press"),
	}, "key")
}

func (t *PressTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	if err := t.Manager.Press(ctx, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("Pressed %s", key), nil
}

// EvaluateTool runs JavaScript on the page.
type EvaluateTool struct{ Manager *Manager }

func (t *EvaluateTool) Name() string        { return "browser_evaluate" }
func (t *EvaluateTool) Description() string { return "Execute JavaScript in the page and return the result." }

func (t *EvaluateTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"script": tools.StringProp("JavaScript to evaluate"),
	}, "script")
}

func (t *EvaluateTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	script, _ := args["script"].(string)
	if script == "" {
		return "", fmt.Errorf("script is required")
	}
	return t.Manager.Evaluate(ctx, script)
}

// WaitTool waits for a selector, text, or a fixed time.
type WaitTool struct{ Manager *Manager }

func (t *WaitTool) Name() string        { return "browser_wait" }
func (t *WaitTool) Description() string { return "Wait for a selector to be visible, for text to appear, or for a fixed time." }

func (t *WaitTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"selector": tools.StringProp("Selector or ref to wait for"),
		"text":     tools.StringProp("Text to wait for"),
		"time_ms":  map[string]any{"type": "integer", "description": "Milliseconds to sleep"},
	})
}

func (t *WaitTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	selector, _ := args["selector"].(string)
	text, _ := args["text"].(string)
	ms := intArg(args, "time_ms")
	if selector == "" && text == "" && ms <= 0 {
		return "", fmt.Errorf("one of selector, text, or time_ms is required")
	}
	if err := t.Manager.Wait(ctx, selector, text, time.Duration(ms)*time.Millisecond); err != nil {
		return "", err
	}
	return "Done waiting.", nil
}

// TabsTool manages browser tabs.
type TabsTool struct{ Manager *Manager }

func (t *TabsTool) Name() string        { return "browser_tabs" }
func (t *TabsTool) Description() string { return "Manage browser tabs: list, new, close, select." }

func (t *TabsTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"action": map[string]any{
			"type": "string",
			"enum": []string{"list", "new", "close", "select"},
		},
		"tab_id": tools.StringProp("Tab id (close and select actions)"),
	}, "action")
}

func (t *TabsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)
	id, _ := args["tab_id"].(string)

	switch action {
	case "list":
		infos, err := t.Manager.Tabs(ctx)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, info := range infos {
			marker := " "
			if info.Active {
				marker = "*"
			}
			fmt.Fprintf(&sb, "%s %s  %s  %s\n", marker, info.ID, info.Title, info.URL)
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	case "new":
		newID, err := t.Manager.NewTab(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened %s", newID), nil
	case "close":
		if id == "" {
			return "", fmt.Errorf("tab_id is required for close")
		}
		if err := t.Manager.CloseTab(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Closed %s", id), nil
	case "select":
		if id == "" {
			return "", fmt.Errorf("tab_id is required for select")
		}
		if err := t.Manager.SelectTab(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("Switched to %s", id), nil
	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}

// BackTool navigates back in history.
type BackTool struct{ Manager *Manager }

func (t *BackTool) Name() string        { return "browser_back" }
func (t *BackTool) Description() string { return "Go back one page in browser history." }

func (t *BackTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{})
}

func (t *BackTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	title, err := t.Manager.Back(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Went back (%s)", title), nil
}

// ScreenshotTool captures the page as a PNG.
type ScreenshotTool struct{ Manager *Manager }

func (t *ScreenshotTool) Name() string        { return "browser_screenshot" }
func (t *ScreenshotTool) Description() string { return "Take a screenshot of the current page; returns base64 PNG." }

func (t *ScreenshotTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"full_page": map[string]any{"type": "boolean", "description": "Capture the full page instead of the viewport"},
	})
}

func (t *ScreenshotTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	fullPage, _ := args["full_page"].(bool)
	buf, err := t.Manager.Screenshot(ctx, fullPage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Screenshot captured (%d bytes, base64 PNG):\n%s",
		len(buf), base64.StdEncoding.EncodeToString(buf)), nil
}

// All returns the full browser tool suite backed by one manager.
func All(m *Manager) []tools.Tool {
	return []tools.Tool{
		&NavigateTool{Manager: m},
		&SnapshotTool{Manager: m},
		&ClickTool{Manager: m},
		&TypeTool{Manager: m},
		&SelectTool{Manager: m},
		&PressTool{Manager: m},
		&EvaluateTool{Manager: m},
		&WaitTool{Manager: m},
		&TabsTool{Manager: m},
		&BackTool{Manager: m},
		&ScreenshotTool{Manager: m},
	}
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
