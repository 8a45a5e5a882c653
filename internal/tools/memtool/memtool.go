// Package memtool exposes the semantic memory store to the agent.
package memtool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sharphq/sharpbot/internal/memory"
	"github.com/sharphq/sharpbot/internal/tools"
)

const (
	defaultTopK     = 5
	defaultMinScore = 0.3
)

// SearchTool retrieves stored chunks by similarity.
type SearchTool struct {
	Store *memory.Store
}

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Description() string {
	return "Search long-term memory for relevant notes and past context."
}

func (t *SearchTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"query": tools.StringProp("What to look for"),
		"top_k": map[string]any{"type": "integer", "description": "Max results (default 5)"},
	}, "query")
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	topK := intArg(args, "top_k")
	if topK <= 0 {
		topK = defaultTopK
	}

	results, err := t.Store.Search(ctx, query, topK, defaultMinScore)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No relevant memories found.", nil
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "[%.2f] (%s) %s\n", r.Score, r.Source, r.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// IndexTool stores a new memory chunk.
type IndexTool struct {
	Store *memory.Store
}

func (t *IndexTool) Name() string { return "memory_index" }

func (t *IndexTool) Description() string {
	return "Store a fact or note in long-term memory for later retrieval."
}

func (t *IndexTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"content": tools.StringProp("The text to remember"),
		"source":  tools.StringProp("Where this came from (defaults to 'agent')"),
	}, "content")
}

func (t *IndexTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content is required")
	}
	source, _ := args["source"].(string)
	if source == "" {
		source = "agent"
	}

	id, err := t.Store.Index(ctx, content, source, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered (id %s).", id), nil
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
