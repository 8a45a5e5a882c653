// Package compaction keeps conversation transcripts under the model's
// context limit by replacing older middle messages with a synthetic
// summary.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sharphq/sharpbot/pkg/models"
)

const (
	// DefaultContextLimit applies when no model substring matches.
	DefaultContextLimit = 128_000

	// TriggerRatio of the context limit at which compaction fires.
	TriggerRatio = 0.80

	// charsPerToken is the estimation heuristic. Conservative by design;
	// a provider tokenizer would be more precise but the threshold math
	// must stay on the safe side.
	charsPerToken = 4

	// perMessageOverhead accounts for role/framing characters.
	perMessageOverhead = 16

	// MinMessagesToSummarize is the smallest middle worth summarizing.
	MinMessagesToSummarize = 4

	// DefaultPreservePairs keeps this many recent exchange pairs verbatim.
	DefaultPreservePairs = 3

	// transcript caps for the summarizer call
	maxTranscriptChars   = 50_000
	maxChatMessageChars  = 2_000
	maxToolMessageChars  = 500
	fallbackSummaryChars = 100
)

// modelContextLimits maps model-name substrings to context limits.
var modelContextLimits = map[string]int{
	"gpt-4o":     128_000,
	"gpt-4.1":    1_000_000,
	"o3":         200_000,
	"o4-mini":    200_000,
	"claude":     200_000,
	"gemini":     1_000_000,
	"gpt-3.5":    16_000,
	"deepseek":   64_000,
	"qwen":       32_000,
	"llama":      128_000,
	"mistral":    32_000,
}

const summarizerPrompt = `You summarize conversations between a user and an AI assistant. Write in third person. Use a short bullet structure covering: decisions made, important facts established, tool actions and their outcomes, and pending or unfinished work. Be concise and preserve concrete identifiers (paths, URLs, names) exactly.`

// SummarizeFunc produces a summary of transcript using an LLM. system
// is the fixed summarizer prompt.
type SummarizeFunc func(ctx context.Context, system, transcript string) (string, error)

// Compactor decides when and how to compact a message list.
type Compactor struct {
	summarize     SummarizeFunc
	preservePairs int
	logger        *slog.Logger
}

// New creates a compactor. summarize may be nil, in which case only the
// deterministic fallback is used.
func New(summarize SummarizeFunc, preservePairs int, logger *slog.Logger) *Compactor {
	if preservePairs <= 0 {
		preservePairs = DefaultPreservePairs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{summarize: summarize, preservePairs: preservePairs, logger: logger}
}

// ContextLimit returns the token limit for model, by case-insensitive
// substring match, falling back to DefaultContextLimit.
func ContextLimit(model string) int {
	lower := strings.ToLower(model)
	for substr, limit := range modelContextLimits {
		if strings.Contains(lower, substr) {
			return limit
		}
	}
	return DefaultContextLimit
}

// EstimateTokens estimates the token footprint of msgs using the
// chars/4 heuristic over text plus serialized tool-call payloads, with
// a fixed per-message overhead.
func EstimateTokens(msgs []models.ChatMessage) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content) + perMessageOverhead
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.ArgumentsJSON())
		}
	}
	return chars / charsPerToken
}

// ShouldCompact reports whether msgs exceed the trigger threshold for model.
func ShouldCompact(msgs []models.ChatMessage, model string) bool {
	return float64(EstimateTokens(msgs)) > TriggerRatio*float64(ContextLimit(model))
}

// CompactIfNeeded returns msgs unchanged when under threshold, or a
// compacted list otherwise. The boolean reports whether compaction ran.
//
// The input layout is [system, body..., current user]; index 0 and the
// final user message always survive. The last preservePairs×2 body
// messages are kept verbatim, with the split point walked backward so
// it never separates a tool call from its result.
func (c *Compactor) CompactIfNeeded(ctx context.Context, msgs []models.ChatMessage, model string) ([]models.ChatMessage, bool) {
	if !ShouldCompact(msgs, model) {
		return msgs, false
	}
	if len(msgs) < 3 {
		return msgs, false
	}

	system := msgs[0]
	current := msgs[len(msgs)-1]
	body := msgs[1 : len(msgs)-1]

	split := len(body) - c.preservePairs*2
	if split < 0 {
		split = 0
	}
	split = adjustSplit(body, split)

	middle := body[:split]
	preserved := body[split:]
	if len(middle) < MinMessagesToSummarize {
		return msgs, false
	}

	summary := c.summarizeMiddle(ctx, middle)

	out := make([]models.ChatMessage, 0, len(preserved)+4)
	out = append(out, system)
	out = append(out, models.ChatMessage{
		Role:    models.RoleUser,
		Content: "[Earlier conversation summary]\n\n" + summary,
	})
	out = append(out, models.ChatMessage{
		Role:    models.RoleAssistant,
		Content: "Understood. I have the context from the earlier conversation and will continue from here.",
	})
	out = append(out, preserved...)
	out = append(out, current)
	return out, true
}

// adjustSplit walks the split point left until the preserved segment
// does not begin inside a tool-call/tool-result sequence.
func adjustSplit(body []models.ChatMessage, split int) int {
	for split > 0 {
		// A tool-role message at the boundary would be orphaned from its
		// assistant tool_calls message.
		if body[split].Role == models.RoleTool {
			split--
			continue
		}
		// An assistant message carrying tool_calls as the last summarized
		// message would orphan the results that follow it.
		if body[split-1].Role == models.RoleAssistant && len(body[split-1].ToolCalls) > 0 {
			split--
			continue
		}
		break
	}
	return split
}

func (c *Compactor) summarizeMiddle(ctx context.Context, middle []models.ChatMessage) string {
	if c.summarize != nil {
		transcript := buildTranscript(middle)
		summary, err := c.summarize(ctx, summarizerPrompt, transcript)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			c.logger.Warn("summarizer failed, using fallback summary", "error", err)
		}
	}
	return fallbackSummary(middle)
}

// buildTranscript renders the middle for the summarizer with hard caps.
func buildTranscript(middle []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range middle {
		if b.Len() >= maxTranscriptChars {
			break
		}
		limit := maxChatMessageChars
		if m.Role == models.RoleTool {
			limit = maxToolMessageChars
		}
		text := m.Content
		if len(m.ToolCalls) > 0 {
			var calls []string
			for _, tc := range m.ToolCalls {
				calls = append(calls, fmt.Sprintf("%s(%s)", tc.Name, tc.ArgumentsJSON()))
			}
			text = strings.TrimSpace(text + "\n[tool calls: " + strings.Join(calls, ", ") + "]")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(truncate(text, limit))
		b.WriteString("\n")
	}
	out := b.String()
	if len(out) > maxTranscriptChars {
		out = out[:maxTranscriptChars]
	}
	return out
}

// fallbackSummary is the deterministic summary used when the
// summarizer LLM call fails: the first line of each user message.
func fallbackSummary(middle []models.ChatMessage) string {
	var lines []string
	for _, m := range middle {
		if m.Role != models.RoleUser {
			continue
		}
		line := m.Content
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(truncate(line, fallbackSummaryChars))
		if line != "" {
			lines = append(lines, "- "+line)
		}
	}
	if len(lines) == 0 {
		return "- (no user messages in summarized range)"
	}
	return "Topics discussed:\n" + strings.Join(lines, "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
