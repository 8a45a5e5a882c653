package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func skillDoc(name, desc string) string {
	return fmt.Sprintf("---\nname: %s\ndescription: %s\n---\n# Usage\n\nBody of %s.\n", name, desc, name)
}

func TestParseFrontmatterAndMetadata(t *testing.T) {
	doc := `---
name: github
description: Work with GitHub via the gh CLI.
always: false
metadata: '{"requires":{"bins":["gh"],"env":["GITHUB_TOKEN"]},"os":["linux","darwin"],"primaryEnv":"GITHUB_TOKEN"}'
---
Use {env:GITHUB_TOKEN} when calling the API.
`
	skill, err := Parse([]byte(doc), "/tmp/skills/github")
	if err != nil {
		t.Fatal(err)
	}
	if skill.Name != "github" || skill.Always {
		t.Fatalf("frontmatter: %+v", skill)
	}
	if skill.Metadata == nil || skill.Metadata.PrimaryEnv != "GITHUB_TOKEN" {
		t.Fatalf("metadata: %+v", skill.Metadata)
	}
	if got := skill.Metadata.Requires.Bins; len(got) != 1 || got[0] != "gh" {
		t.Fatalf("requires.bins: %v", got)
	}
	if strings.Contains(skill.Content, "---") {
		t.Fatal("frontmatter not stripped from content")
	}
}

func TestParseInlineMetadataMapping(t *testing.T) {
	doc := `---
name: weather
description: Get weather reports.
metadata:
  requires:
    env: [WEATHER_API_KEY]
---
Body.
`
	skill, err := Parse([]byte(doc), "")
	if err != nil {
		t.Fatal(err)
	}
	if skill.Metadata == nil || len(skill.Metadata.Requires.Env) != 1 {
		t.Fatalf("inline metadata not decoded: %+v", skill.Metadata)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	if _, err := Parse([]byte("---\ndescription: no name\n---\nbody"), ""); err == nil {
		t.Fatal("missing name accepted")
	}
	if _, err := Parse([]byte("---\nname: x\n---\nbody"), ""); err == nil {
		t.Fatal("missing description accepted")
	}
	if _, err := Parse([]byte("no frontmatter"), ""); err == nil {
		t.Fatal("missing frontmatter accepted")
	}
}

func TestSubstituteEnv(t *testing.T) {
	t.Setenv("SKILL_SUB_SET", "hello")
	os.Unsetenv("SKILL_SUB_UNSET")
	got := SubstituteEnv("a={env:SKILL_SUB_SET} b={env:SKILL_SUB_UNSET}")
	if got != "a=hello b=[SKILL_SUB_UNSET NOT SET]" {
		t.Fatalf("substitution: %q", got)
	}
}

func TestTierShadowingCaseInsensitive(t *testing.T) {
	workspace := t.TempDir()
	managed := t.TempDir()
	writeSkill(t, workspace, "deploy", skillDoc("deploy", "workspace version"))
	writeSkill(t, managed, "deploy-upper", "---\nname: deploy\ndescription: managed version\n---\nbody")

	m := NewManager(Dirs{Workspace: workspace, Managed: managed}, nil, nil, nil)
	skill, ok := m.Get("DEPLOY")
	if !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if skill.Description != "workspace version" {
		t.Fatalf("workspace tier did not win: %q", skill.Description)
	}
	if skill.Tier != TierWorkspace {
		t.Fatalf("tier: %s", skill.Tier)
	}
}

func TestGatingBinaryRequirement(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "gh-skill", `---
name: gh-skill
description: needs a binary
metadata: '{"requires":{"bins":["definitely-not-a-real-binary-xyz"]}}'
---
body`)

	m := NewManager(Dirs{Workspace: dir}, nil, nil, nil)
	statuses := m.List()
	if len(statuses) != 1 {
		t.Fatalf("discovered %d skills", len(statuses))
	}
	st := statuses[0]
	if st.Available {
		t.Fatal("skill with missing binary reported available")
	}
	if !strings.Contains(st.Reason, "definitely-not-a-real-binary-xyz") {
		t.Fatalf("reason does not mention binary: %q", st.Reason)
	}
}

func TestGatingFlipsWithPath(t *testing.T) {
	binDir := t.TempDir()
	fake := filepath.Join(binDir, "fakebin")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	writeSkill(t, dir, "needs-fakebin", `---
name: needs-fakebin
description: gated on fakebin
metadata: '{"requires":{"bins":["fakebin"]}}'
---
body`)

	m := NewManager(Dirs{Workspace: dir}, nil, nil, nil)

	t.Setenv("PATH", "/nonexistent")
	if st := m.List()[0]; st.Available {
		t.Fatal("available with empty PATH")
	}

	t.Setenv("PATH", binDir)
	if st := m.List()[0]; !st.Available {
		t.Fatalf("unavailable with binary on PATH: %s", st.Reason)
	}
}

func TestGatingEnvSatisfiedByConfigEntry(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "api-skill", `---
name: api-skill
description: needs a key
metadata: '{"requires":{"env":["API_SKILL_KEY"]},"primaryEnv":"API_SKILL_KEY"}'
---
body`)
	os.Unsetenv("API_SKILL_KEY")

	entries := map[string]*Entry{"api-skill": {APIKey: "secret"}}
	m := NewManager(Dirs{Workspace: dir}, entries, nil, nil)
	if st := m.List()[0]; !st.Available {
		t.Fatalf("config apiKey did not satisfy env gate: %s", st.Reason)
	}
}

func TestGatingConfigRequirement(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "browser-skill", `---
name: browser-skill
description: needs browser enabled
metadata: '{"requires":{"config":["tools.browser.enabled"]}}'
---
body`)

	truthy := func(path string) bool { return path == "tools.browser.enabled" }
	m := NewManager(Dirs{Workspace: dir}, nil, truthy, nil)
	if st := m.List()[0]; !st.Available {
		t.Fatalf("truthy config gate failed: %s", st.Reason)
	}

	m2 := NewManager(Dirs{Workspace: dir}, nil, nil, nil)
	if st := m2.List()[0]; st.Available {
		t.Fatal("nil config accessor should fail config gates")
	}
}

func TestAlwaysSkipsGates(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "core", `---
name: core
description: always on
always: true
metadata: '{"requires":{"bins":["definitely-not-a-real-binary-xyz"]}}'
---
body`)
	m := NewManager(Dirs{Workspace: dir}, nil, nil, nil)
	if st := m.List()[0]; !st.Available {
		t.Fatalf("always skill gated: %s", st.Reason)
	}
}

func TestContentRefusesUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "gated", `---
name: gated
description: gated skill
metadata: '{"requires":{"bins":["definitely-not-a-real-binary-xyz"]}}'
---
secret instructions`)
	m := NewManager(Dirs{Workspace: dir}, nil, nil, nil)

	_, err := m.Content("gated")
	var unavailable *UnavailableError
	if err == nil {
		t.Fatal("unavailable skill content served")
	}
	if !errors.As(err, &unavailable) {
		t.Fatalf("unexpected error type: %v", err)
	}
	if !strings.Contains(unavailable.Reason, "definitely-not-a-real-binary-xyz") {
		t.Fatalf("reason lost: %q", unavailable.Reason)
	}
}

func TestAcquireEnvInjectsAndRestores(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "api-skill", `---
name: api-skill
description: needs a key
metadata: '{"primaryEnv":"ACQUIRE_TEST_KEY"}'
---
body`)
	os.Unsetenv("ACQUIRE_TEST_KEY")
	os.Unsetenv("ACQUIRE_TEST_EXTRA")

	entries := map[string]*Entry{"api-skill": {
		APIKey: "secret",
		Env:    map[string]string{"ACQUIRE_TEST_EXTRA": "extra"},
	}}
	m := NewManager(Dirs{Workspace: dir}, entries, nil, nil)

	restore := m.AcquireEnv()
	if got := os.Getenv("ACQUIRE_TEST_KEY"); got != "secret" {
		t.Fatalf("primaryEnv not injected: %q", got)
	}
	if got := os.Getenv("ACQUIRE_TEST_EXTRA"); got != "extra" {
		t.Fatalf("env map not injected: %q", got)
	}
	restore()
	if _, exists := os.LookupEnv("ACQUIRE_TEST_KEY"); exists {
		t.Fatal("injected var not restored")
	}
	if _, exists := os.LookupEnv("ACQUIRE_TEST_EXTRA"); exists {
		t.Fatal("injected extra var not restored")
	}
}

func TestAcquireEnvDoesNotClobberExisting(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "api-skill", `---
name: api-skill
description: needs a key
metadata: '{"primaryEnv":"CLOBBER_TEST_KEY"}'
---
body`)
	t.Setenv("CLOBBER_TEST_KEY", "user-value")

	entries := map[string]*Entry{"api-skill": {APIKey: "config-value"}}
	m := NewManager(Dirs{Workspace: dir}, entries, nil, nil)

	restore := m.AcquireEnv()
	if got := os.Getenv("CLOBBER_TEST_KEY"); got != "user-value" {
		t.Fatalf("user env clobbered: %q", got)
	}
	restore()
	if got := os.Getenv("CLOBBER_TEST_KEY"); got != "user-value" {
		t.Fatalf("user env removed by restore: %q", got)
	}
}

func TestInvalidateRediscovers(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "first", skillDoc("first", "first skill"))

	m := NewManager(Dirs{Workspace: dir}, nil, nil, nil)
	if got := len(m.List()); got != 1 {
		t.Fatalf("initial discovery: %d", got)
	}

	writeSkill(t, dir, "second", skillDoc("second", "second skill"))
	if got := len(m.List()); got != 1 {
		t.Fatalf("cache mutated without invalidation: %d", got)
	}

	m.Invalidate()
	if got := len(m.List()); got != 2 {
		t.Fatalf("after invalidation: %d", got)
	}
}
