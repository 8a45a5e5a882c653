package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sharphq/sharpbot/internal/tools"
)

const maxReadBytes = 256 * 1024

// ReadTool implements read_file.
type ReadTool struct {
	Resolver Resolver
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read a file's contents. Large files are truncated." }
func (t *ReadTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"path": tools.StringProp("Path to the file (~/ expands to the data directory)"),
	}, "path")
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.Resolver.Resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + fmt.Sprintf("\n… (truncated, %d bytes total)", len(data)), nil
	}
	return string(data), nil
}

// WriteTool implements write_file.
type WriteTool struct {
	Resolver Resolver
}

func (t *WriteTool) Name() string { return "write_file" }
func (t *WriteTool) Description() string {
	return "Write content to a file, creating parent directories as needed."
}
func (t *WriteTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"path":    tools.StringProp("Destination path"),
		"content": tools.StringProp("Content to write"),
	}, "path", "content")
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.Resolver.Resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	content := stringArg(args, "content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditTool implements edit_file: replace an exact, unique occurrence.
type EditTool struct {
	Resolver Resolver
}

func (t *EditTool) Name() string { return "edit_file" }
func (t *EditTool) Description() string {
	return "Replace an exact text snippet in a file. The snippet must occur exactly once."
}
func (t *EditTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"path":     tools.StringProp("File to edit"),
		"old_text": tools.StringProp("Exact text to replace"),
		"new_text": tools.StringProp("Replacement text"),
	}, "path", "old_text", "new_text")
}

func (t *EditTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.Resolver.Resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	oldText := stringArg(args, "old_text")
	newText := stringArg(args, "new_text")
	if oldText == "" {
		return "", fmt.Errorf("old_text is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	switch strings.Count(content, oldText) {
	case 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case 1:
	default:
		return "", fmt.Errorf("old_text occurs more than once in %s; provide more context", path)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Edited %s", path), nil
}

// ListTool implements list_dir.
type ListTool struct {
	Resolver Resolver
}

func (t *ListTool) Name() string        { return "list_dir" }
func (t *ListTool) Description() string { return "List the entries of a directory." }
func (t *ListTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"path": tools.StringProp("Directory to list"),
	}, "path")
}

func (t *ListTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := t.Resolver.Resolve(stringArg(args, "path"))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	if len(entries) == 0 {
		return "(empty)", nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
