package serve

import "time"

// Store persists runs, events, evolution history, and schedules for
// queries that outlive the in-memory orchestrator state.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// Ping verifies the store is reachable.
	Ping() error

	// InsertRun records a new generation run.
	InsertRun(r RunRecord) error

	// UpdateRun updates a run's terminal status, metrics, and error.
	UpdateRun(r RunRecord) error

	// GetRun returns a run by ID.
	GetRun(id string) (RunRecord, error)

	// ListRuns returns recent runs, newest first.
	ListRuns(limit int) ([]RunRecord, error)

	// InsertRunEvent records a pipeline event.
	InsertRunEvent(e RunEvent) error

	// ListRunEvents returns a run's events, oldest first.
	ListRunEvents(runID string, limit int) ([]RunEvent, error)

	// InsertEvolutionRun records a new optimizer run.
	InsertEvolutionRun(r EvolutionRecord) error

	// UpdateEvolutionRun updates an optimizer run's progress or outcome.
	UpdateEvolutionRun(r EvolutionRecord) error

	// GetEvolutionRun returns an optimizer run by ID.
	GetEvolutionRun(id string) (EvolutionRecord, error)

	// ListEvolutionRuns returns recent optimizer runs, newest first.
	ListEvolutionRuns(limit int) ([]EvolutionRecord, error)

	// InsertGeneration appends one generation to an optimizer run's history.
	InsertGeneration(g GenerationRecord) error

	// ListGenerations returns an optimizer run's history, oldest first.
	ListGenerations(evolutionID string) ([]GenerationRecord, error)

	// UpsertSchedule creates or replaces a recurring schedule.
	UpsertSchedule(s Schedule) error

	// DeleteSchedule removes a schedule by name.
	DeleteSchedule(name string) error

	// ListSchedules returns all schedules.
	ListSchedules() ([]Schedule, error)
}

// RunRecord is a persisted generation run.
type RunRecord struct {
	ID           string     `json:"id"`
	Pipeline     string     `json:"pipeline"`
	ProjectName  string     `json:"project_name"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      float64    `json:"cost_usd"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunEvent is a persisted pipeline event.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EvolutionRecord is a persisted optimizer run.
type EvolutionRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Generations int        `json:"generations"`
	BestFitness float64    `json:"best_fitness"`

	// BestGenome is the best parameter set as JSON
	BestGenome string `json:"best_genome,omitempty"`

	Stopped    string     `json:"stopped,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// GenerationRecord is one generation in an optimizer run's history.
type GenerationRecord struct {
	ID           int64     `json:"id"`
	EvolutionID  string    `json:"evolution_id"`
	Generation   int       `json:"generation"`
	BestFitness  float64   `json:"best_fitness"`
	MeanFitness  float64   `json:"mean_fitness"`
	StdDev       float64   `json:"std_dev"`
	MutationRate float64   `json:"mutation_rate"`
	At           time.Time `json:"at"`
}

// Schedule is a persisted recurring evolution trigger.
type Schedule struct {
	Name    string `json:"name"`
	Cron    string `json:"cron"`
	Enabled bool   `json:"enabled"`

	// Spec is the JSON-serialized EvolutionRequest fired on each tick
	Spec string `json:"spec"`

	CreatedAt time.Time `json:"created_at"`
}
