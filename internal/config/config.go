// Package config handles configuration loading for Nexus. It supports XDG
// config paths, project-level overrides, and environment variables, layered
// through viper the same way across every scope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-build/nexus/pkg/models"
)

// Config holds all configuration for a Nexus run.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm"`
	Defaults     DefaultsConfig     `mapstructure:"defaults"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Pool         PoolConfig         `mapstructure:"pool"`
	Iteration    IterationConfig    `mapstructure:"iteration"`
	QualityGates QualityGatesConfig `mapstructure:"quality_gates"`
}

// LLMConfig selects and authenticates the LLMClient backend.
type LLMConfig struct {
	// Backend is "cli" (subprocess) or "api" (HTTPS), selecting between
	// the two LLMClient adapters this module ships.
	Backend string `mapstructure:"backend"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// DefaultsConfig holds default values for a Nexus run.
type DefaultsConfig struct {
	AgentType   string `mapstructure:"agent_type"`
	TokenBudget int    `mapstructure:"token_budget"`
}

// TimeoutsConfig holds per-agent-type task timeouts.
type TimeoutsConfig struct {
	Scout     time.Duration `mapstructure:"scout"`
	Builder   time.Duration `mapstructure:"builder"`
	Architect time.Duration `mapstructure:"architect"`
}

// For returns the configured timeout for agentType, defaulting to the
// builder timeout for an unrecognized type.
func (t TimeoutsConfig) For(agentType models.AgentType) time.Duration {
	switch agentType {
	case models.AgentTypeScout:
		return t.Scout
	case models.AgentTypeArchitect:
		return t.Architect
	default:
		return t.Builder
	}
}

// PoolConfig holds the AgentPool's per-agent-type concurrency caps.
type PoolConfig struct {
	Scout     int `mapstructure:"scout"`
	Builder   int `mapstructure:"builder"`
	Architect int `mapstructure:"architect"`
}

// For returns the configured capacity for agentType, defaulting to the
// builder capacity for an unrecognized type.
func (p PoolConfig) For(agentType models.AgentType) int {
	switch agentType {
	case models.AgentTypeScout:
		return p.Scout
	case models.AgentTypeArchitect:
		return p.Architect
	default:
		return p.Builder
	}
}

// IterationConfig holds the IterationEngine's default Options.
type IterationConfig struct {
	MaxIterations       int  `mapstructure:"max_iterations"`
	EscalateAfter       int  `mapstructure:"escalate_after"`
	CommitEachIteration bool `mapstructure:"commit_each_iteration"`
	TimeoutMinutes      int  `mapstructure:"timeout_minutes"`
}

// QualityGatesConfig toggles which QARunner capabilities are exercised
// between iterations.
type QualityGatesConfig struct {
	Build bool `mapstructure:"build"`
	Lint  bool `mapstructure:"lint"`
	Test  bool `mapstructure:"test"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.nexus.yaml in the current directory or a parent)
//  3. User config (~/.config/nexus/config.yaml)
//  4. Built-in defaults
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

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.BindEnv("llm.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path (used by tests
// and by callers that bypass XDG discovery entirely).
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

	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	return cfg, nil
}

// Save writes cfg to the user config file, creating its directory if needed.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveToPath(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveToPath writes cfg as YAML to an arbitrary path, such as a project's
// .nexus.yaml, rather than the user config file Save always targets.
func SaveToPath(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("llm.backend", cfg.LLM.Backend)
	v.Set("llm.api_key", cfg.LLM.APIKey)
	v.Set("llm.model", cfg.LLM.Model)
	v.Set("defaults.agent_type", cfg.Defaults.AgentType)
	v.Set("defaults.token_budget", cfg.Defaults.TokenBudget)
	v.Set("timeouts.scout", cfg.Timeouts.Scout.String())
	v.Set("timeouts.builder", cfg.Timeouts.Builder.String())
	v.Set("timeouts.architect", cfg.Timeouts.Architect.String())
	v.Set("pool.scout", cfg.Pool.Scout)
	v.Set("pool.builder", cfg.Pool.Builder)
	v.Set("pool.architect", cfg.Pool.Architect)
	v.Set("iteration.max_iterations", cfg.Iteration.MaxIterations)
	v.Set("iteration.escalate_after", cfg.Iteration.EscalateAfter)
	v.Set("iteration.commit_each_iteration", cfg.Iteration.CommitEachIteration)
	v.Set("iteration.timeout_minutes", cfg.Iteration.TimeoutMinutes)
	v.Set("quality_gates.build", cfg.QualityGates.Build)
	v.Set("quality_gates.lint", cfg.QualityGates.Lint)
	v.Set("quality_gates.test", cfg.QualityGates.Test)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file, if any.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.backend", "cli")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")

	v.SetDefault("defaults.agent_type", "builder")
	v.SetDefault("defaults.token_budget", 100000)

	v.SetDefault("timeouts.scout", "5m")
	v.SetDefault("timeouts.builder", "15m")
	v.SetDefault("timeouts.architect", "30m")

	v.SetDefault("pool.scout", 2)
	v.SetDefault("pool.builder", 3)
	v.SetDefault("pool.architect", 1)

	v.SetDefault("iteration.max_iterations", 20)
	v.SetDefault("iteration.escalate_after", 20)
	v.SetDefault("iteration.commit_each_iteration", true)
	v.SetDefault("iteration.timeout_minutes", 15)

	v.SetDefault("quality_gates.build", true)
	v.SetDefault("quality_gates.lint", true)
	v.SetDefault("quality_gates.test", true)
}

// getUserConfigDir returns the XDG config directory for Nexus.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nexus")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "nexus")
	}
	return filepath.Join(home, ".config", "nexus")
}

// findProjectConfig searches for .nexus.yaml in the current directory and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".nexus.yaml")
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

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{Backend: "cli"},
		Defaults: DefaultsConfig{
			AgentType:   "builder",
			TokenBudget: 100000,
		},
		Timeouts: TimeoutsConfig{
			Scout:     5 * time.Minute,
			Builder:   15 * time.Minute,
			Architect: 30 * time.Minute,
		},
		Pool: PoolConfig{Scout: 2, Builder: 3, Architect: 1},
		Iteration: IterationConfig{
			MaxIterations:       20,
			EscalateAfter:       20,
			CommitEachIteration: true,
			TimeoutMinutes:      15,
		},
		QualityGates: QualityGatesConfig{Build: true, Lint: true, Test: true},
	}
}
