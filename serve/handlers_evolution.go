package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/evolution"
)

// defaultBenchmark is the service description candidates are evaluated
// against when the request does not supply one.
const defaultBenchmark = "A REST API for a todo list with user accounts, task CRUD, due dates, and tags"

// ParameterSpec describes the evolvable generation parameters.
func ParameterSpec() (*evolution.Spec, error) {
	return evolution.NewSpec(
		evolution.Gene{Name: "temperature", Kind: evolution.GeneFloat, Min: 0.0, Max: 1.5},
		evolution.Gene{Name: "top_p", Kind: evolution.GeneFloat, Min: 0.5, Max: 1.0},
		evolution.Gene{Name: "max_tokens", Kind: evolution.GeneInt, Min: 512, Max: 8192},
		evolution.Gene{Name: "plan_depth", Kind: evolution.GeneInt, Min: 2, Max: 16},
		evolution.Gene{Name: "parallelism", Kind: evolution.GeneInt, Min: 1, Max: 8},
	)
}

// ParamsFromGenome maps an evolved genome onto generation parameters.
func ParamsFromGenome(g evolution.Genome) tdev.GenerationParams {
	p := tdev.DefaultGenerationParams()
	p.Temperature = g.Float("temperature")
	p.TopP = g.Float("top_p")
	p.MaxTokens = g.Int("max_tokens")
	p.PlanDepth = g.Int("plan_depth")
	p.Parallelism = g.Int("parallelism")
	return p
}

// pipelineEvaluator measures a genome by running the generation
// pipeline against a benchmark request with the candidate parameters.
type pipelineEvaluator struct {
	orch      *tdev.Orchestrator
	pipeline  *tdev.Pipeline
	benchmark string
}

// NewPipelineEvaluator builds the benchmark evaluator used for
// evolution runs. An empty benchmark selects the built-in one.
func NewPipelineEvaluator(orch *tdev.Orchestrator, pipeline *tdev.Pipeline, benchmark string) evolution.Evaluator {
	if benchmark == "" {
		benchmark = defaultBenchmark
	}
	return &pipelineEvaluator{orch: orch, pipeline: pipeline, benchmark: benchmark}
}

// Evaluate runs one benchmark generation and reports its metrics:
// completeness (stages finished), quality (planned components that
// produced files), latency in seconds, and cost in USD.
func (e *pipelineEvaluator) Evaluate(ctx context.Context, g evolution.Genome) (map[string]float64, error) {
	req := tdev.ServiceRequest{
		Description: e.benchmark,
		ProjectName: "benchmark",
	}

	run, err := e.orch.StartRun(e.pipeline, req,
		tdev.WithParams(ParamsFromGenome(g)),
		tdev.WithRunContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("start benchmark run: %w", err)
	}
	// Benchmark runs are throwaway: one per genome per generation
	// would otherwise pile up in the run table and on disk.
	defer func() {
		run.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		run.Wait(waitCtx)
		if err := e.orch.Discard(run.ID); err != nil {
			slog.Warn("discard benchmark run failed", "run", run.ID, "error", err)
		}
	}()

	start := time.Now()
	results, runErr := run.Wait(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m := run.Metrics()
	total := len(e.pipeline.Stages)
	completeness := 0.0
	if total > 0 {
		completeness = float64(m.StagesCompleted) / float64(total)
	}

	quality := componentQuality(results)
	if runErr != nil {
		// Failed runs still score on partial progress.
		slog.Debug("benchmark run failed", "run", run.ID, "error", runErr)
	}

	return map[string]float64{
		"completeness": completeness,
		"quality":      quality,
		"latency":      time.Since(start).Seconds(),
		"cost":         m.Usage.CostUSD,
	}, nil
}

// componentQuality is the fraction of planned components the generate
// stage actually produced.
func componentQuality(results map[string]tdev.ExecutionResult) float64 {
	gen, ok := results["generate"]
	if !ok {
		return 0
	}
	planned, _ := gen.Output["planned"].(int)
	files, _ := gen.Output["files"].([]string)
	if planned <= 0 {
		return 0
	}
	return float64(len(files)) / float64(planned)
}

// evolutionManager tracks in-flight optimizer runs.
type evolutionManager struct {
	srv *Server

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func newEvolutionManager(s *Server) *evolutionManager {
	return &evolutionManager{
		srv:    s,
		cancel: make(map[string]context.CancelFunc),
	}
}

// Start launches an optimizer run in the background and returns its ID.
func (m *evolutionManager) Start(req EvolutionRequest) (string, error) {
	spec, err := ParameterSpec()
	if err != nil {
		return "", err
	}

	cfg := m.optimizerConfig(req)

	weights := req.Weights
	if len(weights) == 0 {
		weights = m.srv.cfg.Evolution.Weights
	}
	fitness, err := evolution.NewFitnessCalculator(weights)
	if err != nil {
		return "", err
	}

	benchmark := req.Benchmark
	if benchmark == "" {
		benchmark = defaultBenchmark
	}
	evaluator := &pipelineEvaluator{
		orch:      m.srv.orch,
		pipeline:  m.srv.pipeline,
		benchmark: benchmark,
	}

	opt, err := evolution.NewOptimizer(spec, evaluator, fitness, cfg)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()[:8]
	startedAt := time.Now()
	if err := m.srv.store.InsertEvolutionRun(EvolutionRecord{
		ID:        id,
		Status:    "running",
		StartedAt: startedAt,
	}); err != nil {
		return "", fmt.Errorf("persist evolution run: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel[id] = cancel
	m.mu.Unlock()

	opt.OnGeneration = func(stats evolution.GenerationStats) {
		if err := m.srv.store.InsertGeneration(GenerationRecord{
			EvolutionID:  id,
			Generation:   stats.Generation,
			BestFitness:  stats.BestFitness,
			MeanFitness:  stats.MeanFitness,
			StdDev:       stats.StdDev,
			MutationRate: stats.MutationRate,
			At:           stats.At,
		}); err != nil {
			slog.Warn("persist generation failed", "evolution", id, "error", err)
		}

		m.srv.broker.Publish(BrokerEvent{
			Type:      "evolution.generation",
			RunID:     id,
			Message:   fmt.Sprintf("generation %d", stats.Generation),
			Data:      GenerationResponse{Generation: stats.Generation, BestFitness: stats.BestFitness, MeanFitness: stats.MeanFitness, StdDev: stats.StdDev, MutationRate: stats.MutationRate, At: stats.At},
			Timestamp: time.Now(),
		})
	}

	go m.run(ctx, cancel, id, opt)

	return id, nil
}

// run executes the optimizer and persists the outcome.
func (m *evolutionManager) run(ctx context.Context, cancel context.CancelFunc, id string, opt *evolution.Optimizer) {
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancel, id)
		m.mu.Unlock()
	}()

	slog.Info("evolution run started", "evolution", id)
	result, err := opt.Run(ctx)

	now := time.Now()
	rec := EvolutionRecord{
		ID:         id,
		Status:     "completed",
		FinishedAt: &now,
	}
	if result != nil {
		rec.Generations = result.Generations
		rec.BestFitness = result.BestFitness
		rec.Stopped = result.Stopped
		if genome, jerr := json.Marshal(result.BestGenome); jerr == nil {
			rec.BestGenome = string(genome)
		}
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		if ctx.Err() != nil {
			rec.Status = "canceled"
		}
	}

	if uerr := m.srv.store.UpdateEvolutionRun(rec); uerr != nil {
		slog.Warn("persist evolution update failed", "evolution", id, "error", uerr)
	}

	m.srv.broker.Publish(BrokerEvent{
		Type:      "evolution." + rec.Status,
		RunID:     id,
		Error:     rec.Error,
		Timestamp: now,
	})
	slog.Info("evolution run finished", "evolution", id, "status", rec.Status, "best_fitness", rec.BestFitness)
}

// optimizerConfig overlays request settings on the configured defaults.
func (m *evolutionManager) optimizerConfig(req EvolutionRequest) evolution.OptimizerConfig {
	ecfg := m.srv.cfg.Evolution

	cfg := evolution.DefaultOptimizerConfig()
	cfg.PopulationSize = ecfg.PopulationSize
	cfg.Generations = ecfg.Generations
	cfg.EliteCount = ecfg.EliteCount
	cfg.MutationRate = ecfg.MutationRate
	cfg.CrossoverRate = ecfg.CrossoverRate
	cfg.Parallelism = ecfg.Parallelism
	cfg.Patience = ecfg.Patience

	if req.PopulationSize > 0 {
		cfg.PopulationSize = req.PopulationSize
	}
	if req.Generations > 0 {
		cfg.Generations = req.Generations
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	return cfg
}

// --- Evolution Handlers ---

func (s *Server) handleStartEvolution(w http.ResponseWriter, r *http.Request) {
	var req EvolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	id, err := s.evolutions.Start(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"evolution_id": id, "status": "running"})
}

func (s *Server) handleListEvolutionRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListEvolutionRuns(queryLimit(r, 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := make([]EvolutionRunResponse, 0, len(runs))
	for _, rec := range runs {
		resp = append(resp, evolutionToResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvolutionRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetEvolutionRun(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "evolution run not found"})
		return
	}
	writeJSON(w, http.StatusOK, evolutionToResponse(rec))
}

func (s *Server) handleEvolutionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetEvolutionRun(id); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "evolution run not found"})
		return
	}

	gens, err := s.store.ListGenerations(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := make([]GenerationResponse, 0, len(gens))
	for _, g := range gens {
		resp = append(resp, GenerationResponse{
			Generation:   g.Generation,
			BestFitness:  g.BestFitness,
			MeanFitness:  g.MeanFitness,
			StdDev:       g.StdDev,
			MutationRate: g.MutationRate,
			At:           g.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func evolutionToResponse(rec EvolutionRecord) EvolutionRunResponse {
	resp := EvolutionRunResponse{
		ID:          rec.ID,
		Status:      rec.Status,
		Generations: rec.Generations,
		BestFitness: rec.BestFitness,
		Stopped:     rec.Stopped,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	}
	if rec.BestGenome != "" {
		var genome map[string]any
		if err := json.Unmarshal([]byte(rec.BestGenome), &genome); err == nil {
			resp.BestGenome = genome
		}
	}
	return resp
}
