package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sharphq/sharpbot/pkg/models"
)

func msg(role models.Role, content string) models.ChatMessage {
	return models.ChatMessage{Role: role, Content: content}
}

// bigHistory builds [system, n user/assistant pairs, current user] where
// each message is large enough to trip the threshold for small models.
func bigHistory(n, charsEach int) []models.ChatMessage {
	filler := strings.Repeat("x", charsEach)
	msgs := []models.ChatMessage{msg(models.RoleSystem, "sys")}
	for i := 0; i < n; i++ {
		msgs = append(msgs, msg(models.RoleUser, "question "+filler))
		msgs = append(msgs, msg(models.RoleAssistant, "answer "+filler))
	}
	msgs = append(msgs, msg(models.RoleUser, "current question"))
	return msgs
}

func TestContextLimitSubstringMatch(t *testing.T) {
	if got := ContextLimit("claude-sonnet-4-20250514"); got != 200_000 {
		t.Fatalf("claude limit: %d", got)
	}
	if got := ContextLimit("GPT-4o-mini"); got != 128_000 {
		t.Fatalf("gpt-4o limit: %d", got)
	}
	if got := ContextLimit("totally-unknown-model"); got != DefaultContextLimit {
		t.Fatalf("fallback limit: %d", got)
	}
}

func TestEstimateTokensCountsToolCalls(t *testing.T) {
	plain := []models.ChatMessage{msg(models.RoleUser, strings.Repeat("a", 400))}
	withCall := []models.ChatMessage{{
		Role:    models.RoleUser,
		Content: strings.Repeat("a", 400),
		ToolCalls: []models.ToolCall{
			{ID: "1", Name: "exec", Arguments: map[string]any{"command": "ls -la"}},
		},
	}}
	if EstimateTokens(withCall) <= EstimateTokens(plain) {
		t.Fatal("tool call payload not counted")
	}
}

func TestNoCompactionUnderThreshold(t *testing.T) {
	c := New(nil, 3, nil)
	msgs := bigHistory(3, 10)
	out, compacted := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if compacted {
		t.Fatal("compacted a small history")
	}
	if len(out) != len(msgs) {
		t.Fatalf("history changed without compaction: %d -> %d", len(msgs), len(out))
	}
}

func TestCompactionPreservesEndpointsAndRecent(t *testing.T) {
	c := New(nil, 2, nil)
	// gpt-3.5 limit is 16k tokens: 20 pairs x 4000 chars trips 0.80 x 16k.
	msgs := bigHistory(20, 4000)
	out, compacted := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if !compacted {
		t.Fatal("expected compaction")
	}
	if out[0].Role != models.RoleSystem || out[0].Content != "sys" {
		t.Fatal("system message not preserved at index 0")
	}
	last := out[len(out)-1]
	if last.Role != models.RoleUser || last.Content != "current question" {
		t.Fatal("current user message not preserved at end")
	}
	if !strings.HasPrefix(out[1].Content, "[Earlier conversation summary]") {
		t.Fatalf("missing summary marker: %q", out[1].Content[:40])
	}
	if out[2].Role != models.RoleAssistant {
		t.Fatal("missing assistant acknowledgment after summary")
	}
	// preserved tail: 2 pairs = 4 messages, plus system+summary+ack+current
	if len(out) != 8 {
		t.Fatalf("unexpected compacted length: %d", len(out))
	}
}

func TestCompactionNeverOrphansToolResults(t *testing.T) {
	filler := strings.Repeat("x", 4000)
	msgs := []models.ChatMessage{msg(models.RoleSystem, "sys")}
	for i := 0; i < 18; i++ {
		msgs = append(msgs, msg(models.RoleUser, "q "+filler))
		msgs = append(msgs, msg(models.RoleAssistant, "a "+filler))
	}
	// tool exchange positioned exactly where a naive split would land
	msgs = append(msgs, msg(models.RoleUser, "run it "+filler))
	msgs = append(msgs, models.ChatMessage{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: "call_1", Name: "exec", Arguments: map[string]any{"command": "ls"}}},
	})
	msgs = append(msgs, models.ChatMessage{Role: models.RoleTool, ToolCallID: "call_1", Name: "exec", Content: "file.txt"})
	msgs = append(msgs, msg(models.RoleAssistant, "done "+filler))
	msgs = append(msgs, msg(models.RoleUser, "current question"))

	c := New(nil, 1, nil)
	out, compacted := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if !compacted {
		t.Fatal("expected compaction")
	}
	for i, m := range out {
		if m.Role == models.RoleTool {
			if i == 0 || len(out[i-1].ToolCalls) == 0 {
				t.Fatalf("tool result at %d has no preceding tool-call message", i)
			}
		}
		if len(m.ToolCalls) > 0 {
			if i+1 >= len(out) || out[i+1].Role != models.RoleTool {
				t.Fatalf("tool-call message at %d has no following result", i)
			}
		}
	}
}

func TestCompactionSkipsTinyMiddle(t *testing.T) {
	// Enormous messages, but too few to summarize once the tail is held back.
	filler := strings.Repeat("x", 30_000)
	msgs := []models.ChatMessage{
		msg(models.RoleSystem, "sys"),
		msg(models.RoleUser, filler),
		msg(models.RoleAssistant, filler),
		msg(models.RoleUser, filler),
		msg(models.RoleAssistant, filler),
		msg(models.RoleUser, "current"),
	}
	c := New(nil, 2, nil)
	_, compacted := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if compacted {
		t.Fatal("compacted despite middle below minimum")
	}
}

func TestSummarizerFailureFallsBack(t *testing.T) {
	fail := func(ctx context.Context, system, transcript string) (string, error) {
		return "", errors.New("llm down")
	}
	c := New(fail, 2, nil)
	msgs := bigHistory(20, 4000)
	out, compacted := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if !compacted {
		t.Fatal("expected compaction")
	}
	if !strings.Contains(out[1].Content, "Topics discussed:") {
		t.Fatalf("fallback summary missing: %q", out[1].Content)
	}
}

func TestSummarizerOutputUsed(t *testing.T) {
	summarize := func(ctx context.Context, system, transcript string) (string, error) {
		if system == "" || transcript == "" {
			t.Fatal("summarizer called without prompt or transcript")
		}
		return "- user asked questions", nil
	}
	c := New(summarize, 2, nil)
	msgs := bigHistory(20, 4000)
	out, _ := c.CompactIfNeeded(context.Background(), msgs, "gpt-3.5-turbo")
	if !strings.Contains(out[1].Content, "- user asked questions") {
		t.Fatalf("summarizer output not used: %q", out[1].Content)
	}
}

func TestTranscriptCaps(t *testing.T) {
	var middle []models.ChatMessage
	for i := 0; i < 40; i++ {
		middle = append(middle, msg(models.RoleUser, strings.Repeat("u", 5000)))
		middle = append(middle, models.ChatMessage{Role: models.RoleTool, ToolCallID: "c", Content: strings.Repeat("t", 5000)})
	}
	transcript := buildTranscript(middle)
	if len(transcript) > maxTranscriptChars {
		t.Fatalf("transcript exceeds cap: %d", len(transcript))
	}
	lines := strings.Split(transcript, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "tool: ") && len(line) > len("tool: ")+maxToolMessageChars+4 {
			t.Fatalf("tool line exceeds per-message cap: %d", len(line))
		}
	}
}
