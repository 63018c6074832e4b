package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/monitor"
	"github.com/tdevlabs/tdev/sandbox"
	"github.com/tdevlabs/tdev/serve"
	"github.com/tdevlabs/tdev/workspace"
)

// serveCmd starts the REST API server.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "tdev.yaml", "Config file path")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")

	fs.Usage = func() {
		fmt.Println(`Usage: tdev serve [options]

Start the REST API server: generation runs, downloads, evolution runs,
schedules, SSE progress events, and Prometheus metrics.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  tdev serve
  tdev serve --config prod.yaml --addr :8080`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}
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

	dashboard := monitor.NewDashboard()

	var validator tdev.ProjectValidator
	var sb *sandbox.Manager
	if cfg.Sandbox.Enabled {
		sb, err = sandbox.NewManager(
			sandbox.WithImage(cfg.Sandbox.Image),
			sandbox.WithCommand(cfg.Sandbox.Command),
			sandbox.WithTimeout(cfg.Sandbox.Timeout),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating sandbox: %v\n", err)
			os.Exit(1)
		}
		defer sb.Close()
		validator = sb
	}

	orch := buildOrchestrator(cfg, backend,
		tdev.WithWorkspaces(workspaces),
		tdev.WithDashboard(dashboard),
		tdev.WithPersistence(tdev.NewJSONPersistence(cfg.Server.DBPath+".runs.json")),
	)

	pipeline := tdev.GenerationPipeline(validator)

	srv := serve.New(orch, pipeline, cfg,
		serve.WithWorkspaces(workspaces),
		serve.WithDashboard(dashboard),
		serve.WithSandbox(sb),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
	}
}
