package serve

import "time"

// --- API Request Types ---

// GenerateRequest launches a generation run from a natural-language
// service description.
type GenerateRequest struct {
	Description string   `json:"description"`
	ProjectName string   `json:"project_name,omitempty"`
	Features    []string `json:"features,omitempty"`
	Constraints []string `json:"constraints,omitempty"`

	// Params overrides individual generation parameters
	Params *ParamsRequest `json:"params,omitempty"`
}

// ParamsRequest carries optional generation parameter overrides.
type ParamsRequest struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	PlanDepth   *int     `json:"plan_depth,omitempty"`
	Parallelism *int     `json:"parallelism,omitempty"`
}

// EvolutionRequest launches an optimizer run.
type EvolutionRequest struct {
	PopulationSize int                `json:"population_size,omitempty"`
	Generations    int                `json:"generations,omitempty"`
	Seed           int64              `json:"seed,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`

	// Benchmark is the service description each candidate is
	// evaluated against; empty selects the built-in benchmark
	Benchmark string `json:"benchmark,omitempty"`
}

// ScheduleRequest creates or replaces a recurring evolution schedule.
type ScheduleRequest struct {
	Cron    string `json:"cron"`
	Enabled bool   `json:"enabled"`

	Evolution EvolutionRequest `json:"evolution"`
}

// --- API Response Types ---

// RunResponse is the API representation of a generation run.
type RunResponse struct {
	ID           string          `json:"id"`
	Pipeline     string          `json:"pipeline"`
	ProjectName  string          `json:"project_name,omitempty"`
	Status       string          `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	Error        string          `json:"error,omitempty"`
	Metrics      MetricsResponse `json:"metrics"`
}

// MetricsResponse is the API representation of run metrics.
type MetricsResponse struct {
	StagesCompleted int     `json:"stages_completed"`
	Attempts        int     `json:"attempts"`
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// GenerateResponse is returned when a run is launched.
type GenerateResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// HealthResponse is the health snapshot.
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	ActiveRuns  int    `json:"active_runs"`
	TotalRuns   int    `json:"total_runs"`
	StoreOK     bool   `json:"store_ok"`
	SandboxOK   bool   `json:"sandbox_ok"`
	LLMProvider string `json:"llm_provider,omitempty"`
}

// StatsResponse aggregates run metrics with per-stage latency stats.
type StatsResponse struct {
	TotalRuns         int              `json:"total_runs"`
	RunningRuns       int              `json:"running_runs"`
	CompletedRuns     int              `json:"completed_runs"`
	FailedRuns        int              `json:"failed_runs"`
	TotalInputTokens  int              `json:"total_input_tokens"`
	TotalOutputTokens int              `json:"total_output_tokens"`
	TotalCostUSD      float64          `json:"total_cost_usd"`
	Stages            []StageStatsItem `json:"stages"`
	Uptime            string           `json:"uptime"`
}

// StageStatsItem is one stage's latency summary.
type StageStatsItem struct {
	Stage  string  `json:"stage"`
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// EvolutionRunResponse is the API representation of an optimizer run.
type EvolutionRunResponse struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Generations int            `json:"generations"`
	BestFitness float64        `json:"best_fitness"`
	BestGenome  map[string]any `json:"best_genome,omitempty"`
	Stopped     string         `json:"stopped,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// GenerationResponse is one generation in an evolution run's history.
type GenerationResponse struct {
	Generation   int       `json:"generation"`
	BestFitness  float64   `json:"best_fitness"`
	MeanFitness  float64   `json:"mean_fitness"`
	StdDev       float64   `json:"std_dev"`
	MutationRate float64   `json:"mutation_rate"`
	At           time.Time `json:"at"`
}

// ScheduleResponse is the API representation of a schedule.
type ScheduleResponse struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BrokerEvent is an event sent via SSE.
type BrokerEvent struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Pipeline  string    `json:"pipeline,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
