package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Gating evaluates skill executability gates. Binary and env lookups
// are cached per instance; build a fresh Gating to re-probe the host.
type Gating struct {
	// OS is the current platform (darwin, linux, windows).
	OS string

	// ConfigTruthy reports whether a dot-path config value is truthy.
	// Nil means every config requirement fails.
	ConfigTruthy func(path string) bool

	// Entries provides per-skill configuration overrides.
	Entries map[string]*Entry

	bins map[string]bool
	envs map[string]bool
}

// NewGating creates a gating evaluator for the current host.
func NewGating(entries map[string]*Entry, configTruthy func(string) bool) *Gating {
	return &Gating{
		OS:           runtime.GOOS,
		ConfigTruthy: configTruthy,
		Entries:      entries,
		bins:         make(map[string]bool),
		envs:         make(map[string]bool),
	}
}

func (g *Gating) hasBinary(name string) bool {
	if got, ok := g.bins[name]; ok {
		return got
	}
	_, err := exec.LookPath(name)
	got := err == nil
	g.bins[name] = got
	return got
}

func (g *Gating) hasEnv(name string) bool {
	if got, ok := g.envs[name]; ok {
		return got
	}
	value, exists := os.LookupEnv(name)
	got := exists && value != ""
	g.envs[name] = got
	return got
}

// envSatisfied checks an env requirement, with per-skill config
// entries (apiKey or env map) counting as satisfied.
func (g *Gating) envSatisfied(skillKey, envVar string) bool {
	if g.hasEnv(envVar) {
		return true
	}
	if cfg, ok := g.Entries[skillKey]; ok {
		if cfg.APIKey != "" {
			return true
		}
		if v, ok := cfg.Env[envVar]; ok && v != "" {
			return true
		}
	}
	return false
}

// Evaluate returns the availability of a skill with a reason when
// unavailable. Skills with always=true skip all gates.
func (g *Gating) Evaluate(s *Skill) Status {
	if s.Always {
		return Status{Skill: s, Available: true}
	}
	if !s.IsEnabled(g.Entries) {
		return Status{Skill: s, Available: false, Reason: "disabled in config"}
	}

	meta := s.Metadata
	if meta == nil {
		return Status{Skill: s, Available: true}
	}

	if len(meta.OS) > 0 {
		match := false
		for _, want := range meta.OS {
			if want == g.OS {
				match = true
				break
			}
		}
		if !match {
			return Status{Skill: s, Available: false,
				Reason: fmt.Sprintf("requires OS %v, have %s", meta.OS, g.OS)}
		}
	}

	req := meta.Requires
	if req == nil {
		return Status{Skill: s, Available: true}
	}

	for _, bin := range req.Bins {
		if !g.hasBinary(bin) {
			return Status{Skill: s, Available: false,
				Reason: fmt.Sprintf("missing required binary: %s", bin)}
		}
	}
	if len(req.AnyBins) > 0 {
		found := false
		for _, bin := range req.AnyBins {
			if g.hasBinary(bin) {
				found = true
				break
			}
		}
		if !found {
			return Status{Skill: s, Available: false,
				Reason: fmt.Sprintf("requires one of: %v", req.AnyBins)}
		}
	}
	for _, env := range req.Env {
		if !g.envSatisfied(s.ConfigKey(), env) {
			return Status{Skill: s, Available: false,
				Reason: fmt.Sprintf("missing environment variable: %s", env)}
		}
	}
	for _, path := range req.Config {
		if g.ConfigTruthy == nil || !g.ConfigTruthy(path) {
			return Status{Skill: s, Available: false,
				Reason: fmt.Sprintf("config not enabled: %s", path)}
		}
	}

	return Status{Skill: s, Available: true}
}
