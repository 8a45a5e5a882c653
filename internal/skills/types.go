// Package skills discovers, gates, and serves on-demand instruction
// bundles that extend the assistant's capabilities.
package skills

// Tier identifies where a skill was discovered. Higher tiers shadow
// lower ones when names collide.
type Tier string

const (
	TierWorkspace Tier = "workspace"
	TierManaged   Tier = "managed"
	TierBuiltin   Tier = "builtin"
	TierExtra     Tier = "extra"
)

// tierRank orders tiers for conflict resolution (lower rank wins).
func tierRank(t Tier) int {
	switch t {
	case TierWorkspace:
		return 0
	case TierManaged:
		return 1
	case TierBuiltin:
		return 2
	default:
		return 3
	}
}

// Skill is a discovered instruction bundle.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string

	// Description explains what the skill does and when to use it.
	Description string

	// Always inlines the skill into every system prompt, skipping gating.
	Always bool

	// Metadata carries gating requirements and env hints.
	Metadata *Metadata

	// Content is the markdown body with frontmatter stripped.
	Content string

	// Path is the directory the skill was discovered in.
	Path string

	// Tier records the discovery tier.
	Tier Tier
}

// Metadata holds the gating rules declared in the skill's frontmatter
// `metadata` field (a JSON object).
type Metadata struct {
	// OS restricts the skill to specific platforms (darwin, linux, windows).
	OS []string `json:"os,omitempty"`

	// Requires defines executability gates.
	Requires *Requires `json:"requires,omitempty"`

	// PrimaryEnv is the main API key environment variable for the skill.
	PrimaryEnv string `json:"primaryEnv,omitempty"`

	// SkillKey overrides the config key (defaults to skill name).
	SkillKey string `json:"skillKey,omitempty"`
}

// Requires defines the executability gates for a skill.
type Requires struct {
	// Bins requires every listed binary on PATH.
	Bins []string `json:"bins,omitempty"`

	// AnyBins requires at least one of the listed binaries.
	AnyBins []string `json:"anyBins,omitempty"`

	// Env requires every listed environment variable non-empty, with
	// per-skill config entries counting as satisfied.
	Env []string `json:"env,omitempty"`

	// Config requires every listed config path to be truthy.
	Config []string `json:"config,omitempty"`
}

// Entry is a per-skill configuration override.
type Entry struct {
	// Enabled disables the skill when explicitly false.
	Enabled *bool `yaml:"enabled,omitempty"`

	// APIKey satisfies the skill's PrimaryEnv requirement and is
	// injected during turns.
	APIKey string `yaml:"apiKey,omitempty"`

	// Env supplies additional environment variables for the skill.
	Env map[string]string `yaml:"env,omitempty"`
}

// Status is the availability of a skill at evaluation time.
type Status struct {
	Skill     *Skill
	Available bool
	Reason    string
}

// ConfigKey returns the per-skill configuration key.
func (s *Skill) ConfigKey() string {
	if s.Metadata != nil && s.Metadata.SkillKey != "" {
		return s.Metadata.SkillKey
	}
	return s.Name
}

// IsEnabled reports whether the skill is enabled given config overrides.
func (s *Skill) IsEnabled(entries map[string]*Entry) bool {
	cfg, ok := entries[s.ConfigKey()]
	if !ok || cfg.Enabled == nil {
		return true
	}
	return *cfg.Enabled
}
