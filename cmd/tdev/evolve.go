package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/evolution"
	"github.com/tdevlabs/tdev/serve"
	"github.com/tdevlabs/tdev/workspace"
)

// evolveCmd runs the parameter optimizer locally and prints the best
// parameter set as JSON.
func evolveCmd(args []string) {
	fs := flag.NewFlagSet("evolve", flag.ExitOnError)
	configPath := fs.String("config", "tdev.yaml", "Config file path")
	generations := fs.Int("generations", 0, "Generation budget (overrides config)")
	population := fs.Int("population", 0, "Population size (overrides config)")
	seed := fs.Int64("seed", 0, "RNG seed for reproducible runs")
	benchmark := fs.String("benchmark", "", "Benchmark service description")

	fs.Usage = func() {
		fmt.Println(`Usage: tdev evolve [options]

Run the genetic parameter optimizer against a benchmark generation and
print the best parameter set.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  tdev evolve --generations 10 --population 12
  tdev evolve --seed 42 --benchmark "A blog engine with comments"`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	requireAPIKey(cfg)

	backend, err := buildBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	workspaces, err := workspace.NewManager(cfg.Workspace.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace dir: %v\n", err)
		os.Exit(1)
	}

	orch := buildOrchestrator(cfg, backend, tdev.WithWorkspaces(workspaces))

	spec, err := serve.ParameterSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fitness, err := evolution.NewFitnessCalculator(cfg.Evolution.Weights)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	optCfg := evolution.DefaultOptimizerConfig()
	optCfg.PopulationSize = cfg.Evolution.PopulationSize
	optCfg.Generations = cfg.Evolution.Generations
	optCfg.EliteCount = cfg.Evolution.EliteCount
	optCfg.MutationRate = cfg.Evolution.MutationRate
	optCfg.CrossoverRate = cfg.Evolution.CrossoverRate
	optCfg.Parallelism = cfg.Evolution.Parallelism
	optCfg.Patience = cfg.Evolution.Patience
	if *generations > 0 {
		optCfg.Generations = *generations
	}
	if *population > 0 {
		optCfg.PopulationSize = *population
	}
	optCfg.Seed = *seed

	evaluator := serve.NewPipelineEvaluator(orch, tdev.GenerationPipeline(nil), *benchmark)

	opt, err := evolution.NewOptimizer(spec, evaluator, fitness, optCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	opt.OnGeneration = func(stats evolution.GenerationStats) {
		fmt.Printf("generation %d: best %.4f mean %.4f\n",
			stats.Generation, stats.BestFitness, stats.MeanFitness)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := opt.Run(ctx)
	if err != nil && result == nil {
		fmt.Fprintf(os.Stderr, "Optimizer error: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"best_fitness": result.BestFitness,
		"best_genome":  result.BestGenome,
		"generations":  result.Generations,
		"stopped":      result.Stopped,
	}, "", "  ")
	fmt.Println(string(out))
}
