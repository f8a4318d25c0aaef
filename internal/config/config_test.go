package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Engine.MaxSteps)
	assert.Equal(t, 5, cfg.Engine.MaxPlanIterations)
	assert.Equal(t, 10, cfg.Engine.MaxPollAttempts)
	assert.Equal(t, 3, cfg.Engine.MaxTransientErrors)
	assert.False(t, cfg.Engine.BackgroundInvestigation)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "main", cfg.Repo.BaseBranch)
	assert.Equal(t, "devflow.db", cfg.DBPath)
	assert.False(t, cfg.TrackerConfigured())
	assert.False(t, cfg.RepoConfigured())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devflow.yaml")
	content := `
engine:
  max_plan_iterations: 8
  background_investigation: true
llm:
  provider: anthropic
  model: some-model
tracker:
  api_key: lin_key
  team_id: TEAM
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.MaxPlanIterations)
	assert.True(t, cfg.Engine.BackgroundInvestigation)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.True(t, cfg.TrackerConfigured())

	// Untouched keys keep their defaults.
	assert.Equal(t, 500, cfg.Engine.MaxSteps)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVFLOW_LLM__API_KEY", "sk-test")
	t.Setenv("DEVFLOW_ENGINE__MAX_PLAN_ITERATIONS", "7")
	t.Setenv("DEVFLOW_DB_PATH", "/tmp/other.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Engine.MaxPlanIterations)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.LLM.Provider = "cohere" },
			wantErr: "llm.provider",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "zero max steps",
			mutate:  func(c *Config) { c.Engine.MaxSteps = 0 },
			wantErr: "max_steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
