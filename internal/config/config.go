// Package config loads the process configuration: defaults first, then an
// optional YAML file, then DEVFLOW_ environment variables. Everything is
// read once at start; nothing reloads at runtime.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the full configuration surface.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Engine  EngineConfig  `koanf:"engine"`
	LLM     LLMConfig     `koanf:"llm"`
	Codegen CodegenConfig `koanf:"codegen"`
	Tracker TrackerConfig `koanf:"tracker"`
	Repo    RepoConfig    `koanf:"repo"`
	DBPath  string        `koanf:"db_path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

type EngineConfig struct {
	MaxSteps                  int  `koanf:"max_steps"`
	MaxContextIterations      int  `koanf:"max_context_iterations"`
	MaxRequirementsIterations int  `koanf:"max_requirements_iterations"`
	MaxPlanIterations         int  `koanf:"max_plan_iterations"`
	MaxPollAttempts           int  `koanf:"max_poll_attempts"`
	MaxTransientErrors        int  `koanf:"max_transient_errors"`
	PollIntervalSeconds       int  `koanf:"poll_interval_seconds"`
	BackgroundInvestigation   bool `koanf:"background_investigation"`
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // openai or anthropic
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
}

type CodegenConfig struct {
	BaseURL string `koanf:"base_url"`
	OrgID   string `koanf:"org_id"`
	Token   string `koanf:"token"`
}

type TrackerConfig struct {
	APIURL string `koanf:"api_url"`
	APIKey string `koanf:"api_key"`
	TeamID string `koanf:"team_id"`
}

type RepoConfig struct {
	Owner      string `koanf:"owner"`
	Name       string `koanf:"name"`
	Token      string `koanf:"token"`
	BaseBranch string `koanf:"base_branch"`
}

const defaultYAML = `
log:
  level: info
  format: console
engine:
  max_steps: 500
  max_context_iterations: 5
  max_requirements_iterations: 5
  max_plan_iterations: 5
  max_poll_attempts: 10
  max_transient_errors: 3
  poll_interval_seconds: 2
  background_investigation: false
llm:
  provider: openai
codegen:
  base_url: https://api.codegen.com
tracker:
  api_url: https://api.linear.app/graphql
repo:
  base_branch: main
db_path: devflow.db
`

// Load builds the configuration. path may be empty; a missing file at an
// explicitly given path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// DEVFLOW_LLM__API_KEY -> llm.api_key. The double underscore is the
	// section separator so single underscores survive inside key names.
	err := k.Load(env.Provider("DEVFLOW_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "DEVFLOW_")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive")
	}
	if c.Engine.MaxPlanIterations <= 0 {
		return fmt.Errorf("engine.max_plan_iterations must be positive")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// TrackerConfigured reports whether the issue-tracker binding has enough
// configuration to be constructed.
func (c *Config) TrackerConfigured() bool {
	return c.Tracker.APIKey != "" && c.Tracker.TeamID != ""
}

// RepoConfigured reports whether the source-control binding has enough
// configuration to be constructed.
func (c *Config) RepoConfigured() bool {
	return c.Repo.Owner != "" && c.Repo.Name != "" && c.Repo.Token != ""
}
