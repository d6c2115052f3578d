package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
)

// ModelTier represents the model capability level
type ModelTier string

const (
	TierFast   ModelTier = "fast"   // Claude Haiku
	TierSmart  ModelTier = "smart"  // Claude Sonnet
	TierGenius ModelTier = "genius" // Claude Opus
)

// ModelConfig selects the model and output budget.
type ModelConfig struct {
	Tier      ModelTier `yaml:"tier"`
	ID        string    `yaml:"id,omitempty"` // Explicit model id, overrides tier
	MaxTokens int       `yaml:"max_tokens"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRetries         int           `yaml:"max_retries"`          // Maximum retries on 429
	BaseDelay          time.Duration `yaml:"base_delay"`           // Base delay for exponential backoff
	MaxDelay           time.Duration `yaml:"max_delay"`            // Maximum delay between retries
	TokensPerMinute    int           `yaml:"tokens_per_minute"`    // Rate limit (tokens/minute)
	EnableRateLimiting bool          `yaml:"enable_rate_limiting"` // Enable proactive rate limiting
}

// ContextConfig holds context management configuration
type ContextConfig struct {
	ContextWindow     int     `yaml:"context_window"`     // Context window size in tokens (default: 200000)
	TruncateThreshold float64 `yaml:"truncate_threshold"` // Truncate above this share of the window (default: 0.9)
	TruncateDivisor   int     `yaml:"truncate_divisor"`   // Remove floor(n/divisor)*2 messages (default: 4)
	HardLimitReserve  int     `yaml:"hard_limit_reserve"` // Tokens that must stay free after truncation (default: 13314)
	WarnThreshold     float64 `yaml:"warn_threshold"`     // Show warning at this share (default: 0.80)
}

// ParserConfig controls how tool tags are read from model output.
type ParserConfig struct {
	ContainerTag string `yaml:"container_tag"` // Outer tool tag (default: tool)
	LegacyTags   bool   `yaml:"legacy_tags"`   // Accept <tool_name>...</tool_name>
	CodeSpans    bool   `yaml:"code_spans"`    // Ignore tags inside `code spans`
}

// AgentConfig bounds the task loop.
type AgentConfig struct {
	MaxIterations        int           `yaml:"max_iterations"`          // Model turns per task
	ToolTimeout          time.Duration `yaml:"tool_timeout"`            // Default execute_command timeout
	MaxToolOutput        int           `yaml:"max_tool_output"`         // Bytes of command output kept
	Sandbox              bool          `yaml:"sandbox"`                 // Run commands in the platform sandbox
	PromptTooLongRetries int           `yaml:"prompt_too_long_retries"` // Forced truncations before giving up
	Approval             string        `yaml:"approval"`                // auto, ask, strict or read-only
}

// SessionConfig controls where conversations are stored.
type SessionConfig struct {
	Dir      string `yaml:"dir"`      // Default: ~/.toolloop/sessions
	Codec    string `yaml:"codec"`    // json or cbor
	Compress bool   `yaml:"compress"` // zstd-compress session files
}

// Config holds the application configuration
type Config struct {
	APIKey    string          `yaml:"-"` // From environment only
	Model     ModelConfig     `yaml:"model"`
	Context   ContextConfig   `yaml:"context"`
	Parser    ParserConfig    `yaml:"parser"`
	Agent     AgentConfig     `yaml:"agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`

	// Internal: where config was loaded from
	configPath string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Tier:      TierSmart,
			MaxTokens: 8192,
		},
		Context: ContextConfig{
			ContextWindow:     200000,
			TruncateThreshold: 0.9,
			TruncateDivisor:   4,
			HardLimitReserve:  13314,
			WarnThreshold:     0.80,
		},
		Parser: ParserConfig{
			ContainerTag: "tool",
			LegacyTags:   true,
			CodeSpans:    true,
		},
		Agent: AgentConfig{
			MaxIterations:        50,
			ToolTimeout:          60 * time.Second,
			MaxToolOutput:        50000,
			Sandbox:              false,
			PromptTooLongRetries: 3,
			Approval:             "ask",
		},
		RateLimit: RateLimitConfig{
			MaxRetries:         5,
			BaseDelay:          1 * time.Second,
			MaxDelay:           60 * time.Second,
			TokensPerMinute:    30000,
			EnableRateLimiting: true,
		},
		Session: SessionConfig{
			Codec:    "json",
			Compress: false,
		},
	}
}

// Load loads configuration from files in the working directory and the
// user config directory, then the environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with project-relative config paths resolved against dir.
func LoadFrom(dir string) (*Config, error) {
	cfg := DefaultConfig()

	// Try to load from config files in priority order
	for _, path := range getConfigPaths(dir) {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, errors.ConfigLoadFailed(path, err)
			}
			cfg.configPath = path
			break
		}
	}

	// If no config found, create default
	if cfg.configPath == "" {
		if err := cfg.createDefault(dir); err != nil {
			// Non-fatal: just use defaults
			fmt.Fprintf(os.Stderr, "Warning: could not create default config: %v\n", err)
		}
	}

	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = defaultSessionDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigLoadFailed(cfg.configPath, err)
	}
	return cfg, nil
}

// RequireAPIKey fails when no API key is configured. Commands that never
// talk to the model skip this check.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return errors.ConfigLoadFailed("", fmt.Errorf("ANTHROPIC_API_KEY environment variable is required"))
	}
	return nil
}

// Validate checks values that would otherwise be silently replaced.
func (c *Config) Validate() error {
	if c.Context.TruncateThreshold < 0 || c.Context.TruncateThreshold > 1 {
		return fmt.Errorf("context.truncate_threshold must be between 0 and 1, got %v", c.Context.TruncateThreshold)
	}
	if c.Context.HardLimitReserve >= c.Context.ContextWindow && c.Context.ContextWindow > 0 {
		return fmt.Errorf("context.hard_limit_reserve (%d) must be smaller than context.context_window (%d)", c.Context.HardLimitReserve, c.Context.ContextWindow)
	}
	switch c.Agent.Approval {
	case "", "auto", "ask", "strict", "read-only":
	default:
		return fmt.Errorf("agent.approval must be auto, ask, strict or read-only, got %q", c.Agent.Approval)
	}
	switch c.Session.Codec {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("session.codec must be json or cbor, got %q", c.Session.Codec)
	}
	return nil
}

// getConfigPaths returns config file paths in priority order
func getConfigPaths(dir string) []string {
	paths := []string{
		filepath.Join(dir, "toolloop.yaml"),
		filepath.Join(dir, ".toolloop", "config.yaml"),
	}

	// Add user config directory
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "toolloop", "config.yaml"))
	}

	return paths
}

func defaultSessionDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".toolloop", "sessions")
	}
	return filepath.Join(".toolloop", "sessions")
}

// loadFromFile loads config from a YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// createDefault creates a default config file
func (c *Config) createDefault(dir string) error {
	// Prefer .toolloop/config.yaml in the project directory
	configDir := filepath.Join(dir, ".toolloop")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	path := filepath.Join(configDir, "config.yaml")
	c.configPath = path

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	content := "# toolloop configuration\n# See: https://github.com/abdul-hamid-achik/toolloop\n\n" + string(data)
	return os.WriteFile(path, []byte(content), 0644)
}

// GetModel returns the Anthropic model ID for a tier
func (c *Config) GetModel(tier ModelTier) string {
	switch tier {
	case TierFast:
		return "claude-haiku-4-5-20251015"
	case TierSmart:
		return "claude-sonnet-4-5-20250929"
	case TierGenius:
		return "claude-opus-4-5-20251101"
	default:
		return "claude-sonnet-4-5-20250929"
	}
}

// GetDefaultModel returns the configured model ID, falling back to the tier.
func (c *Config) GetDefaultModel() string {
	if c.Model.ID != "" {
		return c.Model.ID
	}
	return c.GetModel(c.Model.Tier)
}

// SetTier updates the default tier
func (c *Config) SetTier(tier ModelTier) {
	c.Model.Tier = tier
	c.Model.ID = ""
}

// ConfigPath returns where the config was loaded from
func (c *Config) ConfigPath() string {
	return c.configPath
}
