package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 24, cfg.Evolution.PopulationSize)
	assert.Equal(t, 1.0, cfg.Evolution.Weights["completeness"])
	assert.True(t, cfg.Sandbox.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tdev.yaml")
	content := `
server:
  addr: ":9090"
  max_runs: 5
llm:
  provider: openai
  model: gpt-4o
workspace:
  max_run_age: 48h
evolution:
  population_size: 10
  weights:
    completeness: 2.0
sandbox:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Server.MaxRuns)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 48*time.Hour, cfg.Workspace.MaxRunAge)
	assert.Equal(t, 10, cfg.Evolution.PopulationSize)
	assert.Equal(t, 2.0, cfg.Evolution.Weights["completeness"])
	assert.False(t, cfg.Sandbox.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, "tdev.db", cfg.Server.DBPath)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tdev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0644))

	t.Setenv("TDEV_ADDR", ":7070")
	t.Setenv("TDEV_LLM_PROVIDER", "openai")
	t.Setenv("TDEV_TELEGRAM_TOKEN", "tok")
	t.Setenv("TDEV_TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "tok", cfg.Telegram.Token)
	assert.Equal(t, int64(12345), cfg.Telegram.ChatID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero max runs", func(c *Config) { c.Server.MaxRuns = 0 }},
		{"empty provider", func(c *Config) { c.LLM.Provider = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }},
		{"tiny population", func(c *Config) { c.Evolution.PopulationSize = 1 }},
		{"elites eat population", func(c *Config) { c.Evolution.EliteCount = 24 }},
		{"telegram token without chat", func(c *Config) { c.Telegram.Token = "tok" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
