package tdev

import (
	"sync"
	"time"
)

// ServiceRequest describes the project a user wants generated.
type ServiceRequest struct {
	// ID is assigned by the orchestrator when the run starts
	ID string `json:"id"`

	// Description is the natural-language service description
	Description string `json:"description"`

	// ProjectName names the generated project (optional, derived
	// from the description when empty)
	ProjectName string `json:"project_name,omitempty"`

	// Features are explicit feature hints (optional)
	Features []string `json:"features,omitempty"`

	// Constraints are free-form constraints passed to every stage (optional)
	Constraints []string `json:"constraints,omitempty"`

	// CreatedAt is when the request was received
	CreatedAt time.Time `json:"created_at"`
}

// AgentTask is the unit of work handed to a stage.
type AgentTask struct {
	// RunID identifies the owning run
	RunID string `json:"run_id"`

	// Stage is the stage executing this task
	Stage string `json:"stage"`

	// Attempt is the one-based attempt number
	Attempt int `json:"attempt"`

	// Input carries stage-specific input values
	Input map[string]any `json:"input,omitempty"`
}

// ExecutionResult is the outcome of one stage execution.
type ExecutionResult struct {
	// Stage that produced this result
	Stage string `json:"stage"`

	// Output is the stage's structured output
	Output map[string]any `json:"output,omitempty"`

	// Attempts is the number of attempts used
	Attempts int `json:"attempts"`

	// Duration is wall-clock time including retries
	Duration time.Duration `json:"duration"`

	// Usage aggregates LLM usage across attempts
	Usage UsageMetrics `json:"usage"`
}

// UsageMetrics aggregates LLM usage.
type UsageMetrics struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// Add accumulates another usage sample.
func (u *UsageMetrics) Add(other UsageMetrics) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
	u.Calls += other.Calls
}

// PipelineContext carries request data and accumulated stage outputs
// through a run. Values follow last-write-wins; access is guarded
// because stages may fan out internally.
type PipelineContext struct {
	// Request is the originating service request
	Request ServiceRequest

	// WorkDir is the run's workspace directory, empty when the run
	// has no workspace
	WorkDir string

	// Params are the generation parameters for this run
	Params GenerationParams

	mu      sync.RWMutex
	values  map[string]any
	results map[string]ExecutionResult
}

// NewPipelineContext creates a context for a request.
func NewPipelineContext(req ServiceRequest) *PipelineContext {
	return &PipelineContext{
		Request: req,
		Params:  DefaultGenerationParams(),
		values:  make(map[string]any),
		results: make(map[string]ExecutionResult),
	}
}

// Set stores a value under key.
func (pc *PipelineContext) Set(key string, value any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.values[key] = value
}

// Get returns the value stored under key.
func (pc *PipelineContext) Get(key string) (any, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	v, ok := pc.values[key]
	return v, ok
}

// GetString returns the value under key if it is a string.
func (pc *PipelineContext) GetString(key string) string {
	v, ok := pc.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RecordResult stores a stage's execution result.
func (pc *PipelineContext) RecordResult(r ExecutionResult) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.results[r.Stage] = r
}

// Result returns the recorded result for a stage.
func (pc *PipelineContext) Result(stage string) (ExecutionResult, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	r, ok := pc.results[stage]
	return r, ok
}

// Results returns a copy of all recorded results keyed by stage.
func (pc *PipelineContext) Results() map[string]ExecutionResult {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make(map[string]ExecutionResult, len(pc.results))
	for k, v := range pc.results {
		out[k] = v
	}
	return out
}
