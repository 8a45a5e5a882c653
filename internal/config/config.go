// Package config loads the sharpbot YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for sharpbot.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Workspace string          `yaml:"workspace"`
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Tools     ToolsConfig     `yaml:"tools"`
	Skills    SkillsConfig    `yaml:"skills"`
	Memory    MemoryConfig    `yaml:"memory"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Cron      CronConfig      `yaml:"cron"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port"`
	BusCapacity int `yaml:"bus_capacity"`
}

type LLMConfig struct {
	Provider    string            `yaml:"provider"` // openai | anthropic
	APIKey      string            `yaml:"api_key"`
	BaseURL     string            `yaml:"base_url"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float32           `yaml:"temperature"`
	// ModelOverrides maps model names (exact or substring, matched
	// case-insensitively) to per-model parameter overrides.
	ModelOverrides map[string]ModelOverride `yaml:"model_overrides"`
}

type ModelOverride struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float32 `yaml:"temperature"`
}

type AgentConfig struct {
	MaxIterations         int `yaml:"max_iterations"`
	SubagentMaxIterations int `yaml:"subagent_max_iterations"`
	MaxHistory            int `yaml:"max_history"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// AllowedSenders restricts who may talk to the bot. Entries may carry
	// |-separated aliases ("123456|jane").
	AllowedSenders []string `yaml:"allowed_senders"`
}

type SlackConfig struct {
	Enabled        bool     `yaml:"enabled"`
	BotToken       string   `yaml:"bot_token"`
	AppToken       string   `yaml:"app_token"`
	AllowedSenders []string `yaml:"allowed_senders"`
}

type DiscordConfig struct {
	Enabled        bool     `yaml:"enabled"`
	BotToken       string   `yaml:"bot_token"`
	AllowedSenders []string `yaml:"allowed_senders"`
}

type ToolsConfig struct {
	Exec    ExecConfig    `yaml:"exec"`
	Web     WebConfig     `yaml:"web"`
	Browser BrowserConfig `yaml:"browser"`
}

type ExecConfig struct {
	// Security selects the base policy: deny | allowlist | full.
	Security string `yaml:"security"`
	// Ask selects when to request operator approval: off | on-miss | always.
	Ask string `yaml:"ask"`
	// AskFallback applies when an approval times out: deny | allow.
	AskFallback string `yaml:"ask_fallback"`
	// AskTimeout bounds how long an approval may stay pending.
	AskTimeout time.Duration `yaml:"ask_timeout"`
	// RestrictToWorkspace rejects absolute paths escaping the cwd.
	RestrictToWorkspace bool `yaml:"restrict_to_workspace"`
	// Timeout bounds foreground commands.
	Timeout time.Duration `yaml:"timeout"`
	// BackgroundTimeout is the watchdog limit for background sessions.
	BackgroundTimeout time.Duration `yaml:"background_timeout"`
}

type WebConfig struct {
	SearchAPIKey string `yaml:"search_api_key"`
	MaxBodySize  int    `yaml:"max_body_size"`
}

type BrowserConfig struct {
	Enabled  bool `yaml:"enabled"`
	Headless bool `yaml:"headless"`
}

type SkillsConfig struct {
	// ManagedDir and ExtraDirs extend the workspace/builtin tiers.
	ManagedDir string   `yaml:"managed_dir"`
	ExtraDirs  []string `yaml:"extra_dirs"`
	Watch      bool     `yaml:"watch"`
	// Entries provides per-skill overrides keyed by skill name.
	Entries map[string]SkillEntryConfig `yaml:"entries"`
}

type SkillEntryConfig struct {
	Enabled *bool             `yaml:"enabled"`
	APIKey  string            `yaml:"api_key"`
	Env     map[string]string `yaml:"env"`
}

type MemoryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	EmbeddingModel string  `yaml:"embedding_model"`
	TopK           int     `yaml:"top_k"`
	MinScore       float64 `yaml:"min_score"`
}

type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// Channel/ChatID route heartbeat replies. Empty falls back to the
	// CLI channel.
	Channel string `yaml:"channel"`
	ChatID  string `yaml:"chat_id"`

	// ActiveStart/ActiveEnd bound the hours (0-23) during which ticks
	// run. Both zero means around the clock.
	ActiveStart int `yaml:"active_start"`
	ActiveEnd   int `yaml:"active_end"`
}

type CronConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the config file, expanding ${ENV} references and
// applying defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := envPattern.ReplaceAllStringFunc(string(data), func(m string) string {
				name := envPattern.FindStringSubmatch(m)[1]
				return os.Getenv(name)
			})
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	home, _ := os.UserHomeDir()
	if c.DataDir == "" {
		c.DataDir = filepath.Join(home, ".sharpbot")
	}
	if c.Workspace == "" {
		c.Workspace = filepath.Join(c.DataDir, "workspace")
	}
	if c.Server.BusCapacity <= 0 {
		c.Server.BusCapacity = 256
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.SubagentMaxIterations <= 0 {
		c.Agent.SubagentMaxIterations = 15
	}
	if c.Agent.MaxHistory <= 0 {
		c.Agent.MaxHistory = 100
	}
	if c.Tools.Exec.Security == "" {
		c.Tools.Exec.Security = "allowlist"
	}
	if c.Tools.Exec.Ask == "" {
		c.Tools.Exec.Ask = "on-miss"
	}
	if c.Tools.Exec.AskFallback == "" {
		c.Tools.Exec.AskFallback = "deny"
	}
	if c.Tools.Exec.AskTimeout <= 0 {
		c.Tools.Exec.AskTimeout = time.Minute
	}
	if c.Tools.Exec.Timeout <= 0 {
		c.Tools.Exec.Timeout = 60 * time.Second
	}
	if c.Tools.Exec.BackgroundTimeout <= 0 {
		c.Tools.Exec.BackgroundTimeout = 30 * time.Minute
	}
	if c.Tools.Web.MaxBodySize <= 0 {
		c.Tools.Web.MaxBodySize = 200_000
	}
	if c.Memory.EmbeddingModel == "" {
		c.Memory.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Memory.TopK <= 0 {
		c.Memory.TopK = 5
	}
	if c.Memory.MinScore <= 0 {
		c.Memory.MinScore = 0.35
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Values renders the config as a generic map for dot-path lookups.
func (c *Config) Values() map[string]any {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return map[string]any{}
	}
	return values
}

// IsTruthy resolves a dot path ("tools.browser.enabled") against the
// config and reports whether the value is truthy. Missing paths, empty
// strings, zeros, and nil are false.
func (c *Config) IsTruthy(path string) bool {
	var current any = c.Values()
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current = m[part]
	}
	switch v := current.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
