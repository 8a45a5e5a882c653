// Package prompt assembles the system prompt from identity, workspace
// bootstrap files, pinned notes, skills, and semantic-memory recall.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/memory"
	"github.com/sharphq/sharpbot/internal/skills"
)

// sectionSeparator joins prompt sections.
const sectionSeparator = "\n\n---\n\n"

// bootstrapFiles is the fixed, ordered list of workspace markdown
// files inlined after the identity block.
var bootstrapFiles = []string{
	"IDENTITY.md",
	"USER.md",
	"AGENT.md",
	"TOOLS.md",
	"SOUL.md",
}

// pinnedNotesFile holds the always-inlined memory notes.
const pinnedNotesFile = "MEMORY.md"

// Builder assembles system prompts.
type Builder struct {
	// Workspace is the assistant's working directory.
	Workspace string

	// Skills supplies skill sections. Optional.
	Skills *skills.Manager

	// Memory enables semantic recall when non-nil.
	Memory   *memory.Store
	TopK     int
	MinScore float64

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Build assembles the system prompt for a turn. userMessage drives the
// semantic-memory recall block and may be empty.
func (b *Builder) Build(ctx context.Context, channel, chatID, userMessage string) string {
	sections := []string{b.identity()}

	if block := b.bootstrap(); block != "" {
		sections = append(sections, block)
	}
	if block := b.pinnedNotes(); block != "" {
		sections = append(sections, block)
	}
	if block := b.skillSections(); block != "" {
		sections = append(sections, block)
	}
	if block := b.memoryRecall(ctx, userMessage); block != "" {
		sections = append(sections, block)
	}

	sections = append(sections, fmt.Sprintf(
		"## Current Session\n\nChannel: %s\nChat ID: %s", channel, chatID))

	return strings.Join(sections, sectionSeparator)
}

func (b *Builder) identity() string {
	var sb strings.Builder
	sb.WriteString("You are Sharpbot, a personal AI assistant reachable over chat channels. ")
	sb.WriteString("You can run shell commands, read and write files, browse the web, manage long-running processes, schedule reminders, and delegate work to subagents.\n\n")
	fmt.Fprintf(&sb, "Current time: %s\n", b.now().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Runtime: %s/%s, go\n", runtime.GOOS, runtime.GOARCH)
	if b.Workspace != "" {
		fmt.Fprintf(&sb, "Workspace: %s\n", b.Workspace)
	}
	sb.WriteString("\n")
	if b.Memory != nil {
		sb.WriteString("Long-term memory is enabled. Relevant memories are recalled automatically below; use the memory_index tool to store facts worth remembering and memory_search to look up more.")
	} else {
		sb.WriteString("Long-term memory is not enabled. Persist anything important to workspace files, for example MEMORY.md.")
	}
	return sb.String()
}

// bootstrap inlines the workspace bootstrap files that exist, in order.
func (b *Builder) bootstrap() string {
	if b.Workspace == "" {
		return ""
	}
	var parts []string
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.Workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", name, content))
	}
	return strings.Join(parts, sectionSeparator)
}

func (b *Builder) pinnedNotes() string {
	if b.Workspace == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(b.Workspace, pinnedNotesFile))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}
	return "## Pinned Notes\n\n" + content
}

// skillSections renders the three-part skill listing: always-on skills
// inlined in full, available skills as name+description behind the
// load_skill tool, unavailable skills with their reasons.
func (b *Builder) skillSections() string {
	if b.Skills == nil {
		return ""
	}
	statuses := b.Skills.List()
	if len(statuses) == 0 {
		return ""
	}

	var active, available, unavailable []string
	for _, st := range statuses {
		switch {
		case st.Available && st.Skill.Always:
			active = append(active, fmt.Sprintf("### %s\n\n%s",
				st.Skill.Name, skills.SubstituteEnv(st.Skill.Content)))
		case st.Available:
			available = append(available, fmt.Sprintf("- **%s** — %s", st.Skill.Name, st.Skill.Description))
		default:
			unavailable = append(unavailable, fmt.Sprintf("- **%s** — %s (unavailable: %s)",
				st.Skill.Name, st.Skill.Description, st.Reason))
		}
	}

	var parts []string
	if len(active) > 0 {
		parts = append(parts, "## Active Skills\n\n"+strings.Join(active, "\n\n"))
	}
	if len(available) > 0 {
		parts = append(parts, "## Available Skills\n\nCall load_skill with a skill name to get its full instructions.\n\n"+strings.Join(available, "\n"))
	}
	if len(unavailable) > 0 {
		parts = append(parts, "## Unavailable Skills\n\nThese skills exist but their requirements are not met; you can help the user fix that.\n\n"+strings.Join(unavailable, "\n"))
	}
	return strings.Join(parts, sectionSeparator)
}

// memoryRecall renders top-K semantic matches for the user message as
// "- [score] (source) content" lines.
func (b *Builder) memoryRecall(ctx context.Context, userMessage string) string {
	if b.Memory == nil || strings.TrimSpace(userMessage) == "" {
		return ""
	}
	results, err := b.Memory.Search(ctx, userMessage, b.TopK, b.MinScore)
	if err != nil {
		b.logger().Warn("memory recall failed", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Relevant Memories\n\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "- [%.2f] (%s) %s\n", r.Score, r.Source, r.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}
