package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/workspace"
)

// generateCmd runs one generation pipeline from the command line and
// leaves the project in the output directory.
func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "tdev.yaml", "Config file path")
	description := fs.String("description", "", "Natural-language service description")
	name := fs.String("name", "", "Project name")
	features := fs.String("features", "", "Comma-separated feature list")
	out := fs.String("out", "", "Output directory (default: workspace dir)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum run time")
	verbose := fs.Bool("verbose", false, "Print stage events")

	fs.Usage = func() {
		fmt.Println(`Usage: tdev generate [options]

Generate a project from a natural-language service description.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  tdev generate --description "A URL shortener with analytics"
  tdev generate --description "A chat app" --name chat --out ./chat`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *description == "" {
		fmt.Fprintln(os.Stderr, "Error: --description is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	requireAPIKey(cfg)

	backend, err := buildBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	baseDir := cfg.Workspace.Dir
	if *out != "" {
		baseDir = *out
	}
	workspaces, err := workspace.NewManager(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output dir: %v\n", err)
		os.Exit(1)
	}

	orch := buildOrchestrator(cfg, backend, tdev.WithWorkspaces(workspaces))
	if *verbose {
		orch.OnEvent(func(e tdev.Event) {
			fmt.Printf("[%s] %s %s\n", e.Type, e.Stage, e.Message)
		})
	}

	req := tdev.ServiceRequest{
		Description: *description,
		ProjectName: *name,
	}
	if *features != "" {
		for _, f := range strings.Split(*features, ",") {
			req.Features = append(req.Features, strings.TrimSpace(f))
		}
	}

	run, err := orch.StartRun(tdev.GenerationPipeline(nil), req, tdev.WithRunTimeout(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s started\n", run.ID)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if _, err := run.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	m := run.Metrics()
	dir, _ := workspaces.Dir(run.ID)
	fmt.Printf("Done: %d stages, %d input + %d output tokens, $%.4f\n",
		m.StagesCompleted, m.Usage.InputTokens, m.Usage.OutputTokens, m.Usage.CostUSD)
	fmt.Printf("Project: %s\n", dir)
}
