// Package main provides the tdev CLI.
package main

import (
	"fmt"
	"os"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/config"
	"github.com/tdevlabs/tdev/llm"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		serveCmd(args)
	case "generate":
		generateCmd(args)
	case "evolve":
		evolveCmd(args)
	case "version":
		fmt.Printf("tdev %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`T-Developer - AI Service Generation

Usage:
  tdev <command> [options]

Commands:
  serve     Start the REST API server
  generate  Generate a project from a service description
  evolve    Run the parameter optimizer locally
  version   Print version information
  help      Show this help message

Examples:
  tdev serve --config tdev.yaml
  tdev generate --description "A URL shortener with analytics" --out ./myproject
  tdev evolve --generations 10 --population 12

Run 'tdev <command> --help' for more information on a command.`)
}

// loadConfig reads the config file and exits on validation errors.
func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildBackend assembles the LLM router from config, with provider
// failover when a fallback is configured.
func buildBackend(cfg config.Config) (llm.LLM, error) {
	router := llm.NewRouter()

	register := func(provider, model, key, baseURL string) error {
		switch provider {
		case "anthropic":
			var opts []llm.AnthropicOption
			if key != "" {
				opts = append(opts, llm.WithAPIKey(key))
			}
			if model != "" {
				opts = append(opts, llm.WithModel(model))
			}
			if baseURL != "" {
				opts = append(opts, llm.WithBaseURL(baseURL))
			}
			router.Register(provider, llm.NewAnthropic(opts...))
		case "openai":
			var opts []llm.OpenAIOption
			if key != "" {
				opts = append(opts, llm.WithOpenAIKey(key))
			}
			if model != "" {
				opts = append(opts, llm.WithOpenAIModel(model))
			}
			if baseURL != "" {
				opts = append(opts, llm.WithOpenAIBaseURL(baseURL))
			}
			router.Register(provider, llm.NewOpenAI(opts...))
		default:
			return fmt.Errorf("unknown provider %q", provider)
		}
		return nil
	}

	if err := register(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL); err != nil {
		return nil, err
	}
	if cfg.LLM.FallbackProvider != "" && cfg.LLM.FallbackProvider != cfg.LLM.Provider {
		if err := register(cfg.LLM.FallbackProvider, cfg.LLM.FallbackModel, "", ""); err != nil {
			return nil, err
		}
	}
	if err := router.SetPrimary(cfg.LLM.Provider); err != nil {
		return nil, err
	}
	return router, nil
}

// requireAPIKey exits when no provider credential is present.
func requireAPIKey(cfg config.Config) {
	if cfg.LLM.APIKey != "" {
		return
	}
	envVar := "ANTHROPIC_API_KEY"
	if cfg.LLM.Provider == "openai" {
		envVar = "OPENAI_API_KEY"
	}
	if os.Getenv(envVar) == "" {
		fmt.Fprintf(os.Stderr, "Error: %s is not set\n", envVar)
		os.Exit(1)
	}
}

// buildOrchestrator wires an orchestrator with the shared options.
func buildOrchestrator(cfg config.Config, backend llm.LLM, opts ...tdev.OrchestratorOption) *tdev.Orchestrator {
	base := []tdev.OrchestratorOption{
		tdev.WithMaxRuns(cfg.Server.MaxRuns),
		tdev.WithLLM(backend),
	}
	return tdev.NewOrchestrator(append(base, opts...)...)
}
