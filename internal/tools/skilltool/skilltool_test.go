package skilltool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sharphq/sharpbot/internal/skills"
)

func writeSkill(t *testing.T, dir, name, doc string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadsAvailableSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "notes", `---
name: notes
description: Note taking workflow.
---
Keep notes in ~/notes.
`)
	mgr := skills.NewManager(skills.Dirs{Workspace: dir}, nil, nil, nil)
	tool := &Tool{Manager: mgr}

	out, err := tool.Execute(context.Background(), map[string]any{"name": "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "## Skill: notes") || !strings.Contains(out, "Keep notes in ~/notes.") {
		t.Fatalf("output: %q", out)
	}
}

func TestRefusesUnavailableSkillWithReason(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "gated", `---
name: gated
description: Needs a binary that does not exist.
metadata: '{"requires": {"bins": ["definitely-not-a-real-binary-xyz"]}}'
---
Hidden content.
`)
	mgr := skills.NewManager(skills.Dirs{Workspace: dir}, nil, nil, nil)
	tool := &Tool{Manager: mgr}

	_, err := tool.Execute(context.Background(), map[string]any{"name": "gated"})
	var unavailable *skills.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error: %v", err)
	}
	if !strings.Contains(unavailable.Reason, "definitely-not-a-real-binary-xyz") {
		t.Fatalf("reason: %q", unavailable.Reason)
	}
}

func TestUnknownSkill(t *testing.T) {
	mgr := skills.NewManager(skills.Dirs{Workspace: t.TempDir()}, nil, nil, nil)
	tool := &Tool{Manager: mgr}

	_, err := tool.Execute(context.Background(), map[string]any{"name": "ghost"})
	var notFound *skills.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error: %v", err)
	}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing name accepted")
	}
}
