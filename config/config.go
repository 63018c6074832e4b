// Package config loads T-Developer configuration from a YAML file with
// environment-variable overrides for deployment settings and secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	LLM       LLMConfig       `yaml:"llm"`
	Evolution EvolutionConfig `yaml:"evolution"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// ServerConfig configures the HTTP server and its store.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	DBPath  string `yaml:"db_path"`
	MaxRuns int    `yaml:"max_runs"`
}

// WorkspaceConfig configures per-run project directories.
type WorkspaceConfig struct {
	Dir       string        `yaml:"dir"`
	MaxRunAge time.Duration `yaml:"max_run_age"`
}

// LLMConfig selects and configures the model backend.
type LLMConfig struct {
	// Provider is "anthropic" or "openai"
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// APIKey overrides the provider's environment variable
	APIKey string `yaml:"api_key"`

	// FallbackProvider, when set, is tried after retryable primary failures
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackModel    string `yaml:"fallback_model"`
}

// EvolutionConfig carries optimizer defaults and fitness weights.
type EvolutionConfig struct {
	PopulationSize int                `yaml:"population_size"`
	Generations    int                `yaml:"generations"`
	EliteCount     int                `yaml:"elite_count"`
	MutationRate   float64            `yaml:"mutation_rate"`
	CrossoverRate  float64            `yaml:"crossover_rate"`
	Parallelism    int                `yaml:"parallelism"`
	Patience       int                `yaml:"patience"`
	Weights        map[string]float64 `yaml:"weights"`
}

// SandboxConfig configures Docker-backed project validation.
type SandboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Image   string        `yaml:"image"`
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelegramConfig enables outbound run notifications.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:    ":8080",
			DBPath:  "tdev.db",
			MaxRuns: 100,
		},
		Workspace: WorkspaceConfig{
			Dir:       "tdev.work",
			MaxRunAge: 7 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Evolution: EvolutionConfig{
			PopulationSize: 24,
			Generations:    40,
			EliteCount:     2,
			MutationRate:   0.25,
			CrossoverRate:  0.9,
			Parallelism:    4,
			Patience:       8,
			Weights: map[string]float64{
				"completeness": 1.0,
				"quality":      0.5,
				"latency":      -0.2,
				"cost":         -0.3,
			},
		},
		Sandbox: SandboxConfig{
			Enabled: true,
			Image:   "node:20-slim",
			Timeout: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path, applies env overrides, validates,
// and returns the result. A missing file is not an error; defaults plus
// env overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Env wins
// over the file so deployments can override without editing it.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TDEV_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TDEV_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("TDEV_WORKSPACE_DIR"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("TDEV_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("TDEV_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TDEV_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("TDEV_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TDEV_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxRuns < 1 {
		return fmt.Errorf("server.max_runs must be at least 1, got %d", c.Server.MaxRuns)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("unknown llm.provider %q (want anthropic or openai)", c.LLM.Provider)
	}
	if c.Evolution.PopulationSize < 2 {
		return fmt.Errorf("evolution.population_size must be at least 2, got %d", c.Evolution.PopulationSize)
	}
	if c.Evolution.EliteCount >= c.Evolution.PopulationSize {
		return fmt.Errorf("evolution.elite_count %d must be below population_size %d",
			c.Evolution.EliteCount, c.Evolution.PopulationSize)
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}
