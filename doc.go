// Package tdev is the core engine of T-Developer: agent pipelines that
// turn a natural-language service description into a generated project,
// plus a genetic evolution subsystem that tunes the generation
// parameters those pipelines run with.
//
// # Architecture
//
// An Agent is a blueprint: model, system prompt, generation parameters,
// retry policy. A Pipeline is an ordered list of named Stages. The
// Orchestrator spawns Runs from pipelines:
//
//	orch := tdev.NewOrchestrator(tdev.WithLLM(backend))
//	run, err := orch.StartRun(tdev.GenerationPipeline(), req)
//	result, err := run.Wait(ctx)
//
// Each stage executes with per-stage timeout and a typed retry policy
// (exponential backoff with jitter). Stage outputs accumulate in a
// PipelineContext and the final stage assembles the project workspace.
//
// # Subpackages
//
//   - llm: Anthropic/OpenAI backends and a failover router
//   - evolution: genetic optimizer for generation parameters and the
//     self-evolution cycle (research, plan, refactor, evaluate)
//   - monitor: in-memory performance dashboard and Prometheus metrics
//   - workspace: per-run project directories and zip archiving
//   - sandbox: Docker-backed validation of generated projects
//   - serve: HTTP API, SSE event feed, SQLite store, cron schedules
//   - config: YAML configuration with environment overrides
package tdev
