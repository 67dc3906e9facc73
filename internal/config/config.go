// Package config handles configuration loading for the coordinator.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the coordinator process.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Local     LocalConfig     `mapstructure:"local"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Bus       BusConfig       `mapstructure:"bus"`
	State     StateConfig     `mapstructure:"state"`
	Control   ControlConfig   `mapstructure:"control"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// LocalConfig holds local model fallback settings.
type LocalConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// BudgetConfig holds spend window settings.
type BudgetConfig struct {
	// MonthlyLimitUSD is the spend ceiling per window.
	MonthlyLimitUSD float64 `mapstructure:"monthly_limit_usd"`
	// StandardThreshold is the consumed ratio above which premium
	// providers are no longer selected.
	StandardThreshold float64 `mapstructure:"standard_threshold"`
	// LocalThreshold is the consumed ratio above which only the local
	// tier is selected.
	LocalThreshold float64 `mapstructure:"local_threshold"`
	// Period is the rollover window length.
	Period time.Duration `mapstructure:"period"`
}

// AgentsConfig holds agent lifecycle settings.
type AgentsConfig struct {
	// HeartbeatInterval is the liveness cadence for workers.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// HeartbeatTimeout is the silence window before an agent goes offline.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// RetryAttempts is the per-task attempt limit.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// TaskTimeout bounds one task attempt.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// ProviderConfig holds router and circuit breaker settings.
type ProviderConfig struct {
	// CallTimeout bounds one provider call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// BreakerFailures is the consecutive-failure count that opens a
	// provider's breaker.
	BreakerFailures int `mapstructure:"breaker_failures"`
	// BreakerCooldown is the initial open period.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	// BreakerMaxCooldown caps the doubling applied after failed trials.
	BreakerMaxCooldown time.Duration `mapstructure:"breaker_max_cooldown"`
}

// RetryConfig holds the backoff settings between task attempts.
type RetryConfig struct {
	// Base is the delay after the first failure.
	Base time.Duration `mapstructure:"base"`
	// Cap bounds the exponential growth.
	Cap time.Duration `mapstructure:"cap"`
}

// BusConfig selects the message transport.
type BusConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// RedisURL is the broker address for the redis backend.
	RedisURL string `mapstructure:"redis_url"`
}

// StateConfig holds the optional write-through persistence settings.
type StateConfig struct {
	// Enabled toggles persistence.
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
}

// ControlConfig holds the file-based control channel settings.
type ControlConfig struct {
	// Dir is the directory watched for control files; empty disables the
	// watcher.
	Dir string `mapstructure:"dir"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, REDIS_URL)
// 2. Project config (.madev.yaml in current directory or parent)
// 3. User config (~/.config/madev/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("bus.redis_url", "REDIS_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)

	return cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Budget.StandardThreshold <= 0 || c.Budget.StandardThreshold >= 1 {
		return fmt.Errorf("budget.standard_threshold must be in (0, 1), got %v", c.Budget.StandardThreshold)
	}
	if c.Budget.LocalThreshold <= c.Budget.StandardThreshold || c.Budget.LocalThreshold > 1 {
		return fmt.Errorf("budget.local_threshold must be in (standard_threshold, 1], got %v", c.Budget.LocalThreshold)
	}
	if c.Agents.HeartbeatTimeout <= c.Agents.HeartbeatInterval {
		return fmt.Errorf("agents.heartbeat_timeout (%s) must exceed the interval (%s)",
			c.Agents.HeartbeatTimeout, c.Agents.HeartbeatInterval)
	}
	switch c.Bus.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("bus.backend must be memory or redis, got %q", c.Bus.Backend)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "")

	v.SetDefault("local.base_url", "http://localhost:11434")
	v.SetDefault("local.model", "codellama")

	v.SetDefault("budget.monthly_limit_usd", 140.0)
	v.SetDefault("budget.standard_threshold", 0.80)
	v.SetDefault("budget.local_threshold", 0.95)
	v.SetDefault("budget.period", "720h")

	v.SetDefault("agents.heartbeat_interval", "30s")
	v.SetDefault("agents.heartbeat_timeout", "90s")
	v.SetDefault("agents.retry_attempts", 3)
	v.SetDefault("agents.task_timeout", "300s")

	v.SetDefault("provider.call_timeout", "300s")
	v.SetDefault("provider.breaker_failures", 3)
	v.SetDefault("provider.breaker_cooldown", "30s")
	v.SetDefault("provider.breaker_max_cooldown", "5m")

	v.SetDefault("retry.base", "5s")
	v.SetDefault("retry.cap", "60s")

	v.SetDefault("bus.backend", "memory")
	v.SetDefault("bus.redis_url", "redis://localhost:6379/0")

	v.SetDefault("state.enabled", false)
	v.SetDefault("state.path", "madev.db")

	v.SetDefault("control.dir", "")
}

// getUserConfigDir returns the XDG config directory for the coordinator.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "madev")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "madev")
	}
	return filepath.Join(home, ".config", "madev")
}

// findProjectConfig searches for .madev.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".madev.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			BaseURL: "http://localhost:11434",
			Model:   "codellama",
		},
		Budget: BudgetConfig{
			MonthlyLimitUSD:   140.0,
			StandardThreshold: 0.80,
			LocalThreshold:    0.95,
			Period:            720 * time.Hour,
		},
		Agents: AgentsConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  90 * time.Second,
			RetryAttempts:     3,
			TaskTimeout:       300 * time.Second,
		},
		Provider: ProviderConfig{
			CallTimeout:        300 * time.Second,
			BreakerFailures:    3,
			BreakerCooldown:    30 * time.Second,
			BreakerMaxCooldown: 5 * time.Minute,
		},
		Retry: RetryConfig{
			Base: 5 * time.Second,
			Cap:  60 * time.Second,
		},
		Bus: BusConfig{
			Backend:  "memory",
			RedisURL: "redis://localhost:6379/0",
		},
		State: StateConfig{
			Enabled: false,
			Path:    "madev.db",
		},
	}
}
