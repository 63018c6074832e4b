package tdev

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/tdevlabs/tdev/llm"
)

// Run is a pipeline executing against a service request.
type Run struct {
	// ID is the unique identifier for this run
	ID string

	// Pipeline is the pipeline being executed
	Pipeline *Pipeline

	// Context accumulates stage outputs
	Context *PipelineContext

	// StartedAt is when the run was spawned
	StartedAt time.Time

	status       Status
	currentStage string
	err          error
	metrics      RunMetrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	orchestrator *Orchestrator

	mu sync.RWMutex
}

// Status represents the run lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// RunMetrics tracks run usage.
type RunMetrics struct {
	StagesCompleted int          `json:"stages_completed"`
	Retries         int          `json:"retries"`
	Errors          int          `json:"errors"`
	Usage           UsageMetrics `json:"usage"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at,omitzero"`
}

// Status returns the current run status.
func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// CurrentStage returns the stage currently executing, if any.
func (r *Run) CurrentStage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentStage
}

// Metrics returns a snapshot of the run metrics.
func (r *Run) Metrics() RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// Err returns the failure cause for failed runs.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Results returns the stage results recorded so far.
func (r *Run) Results() map[string]ExecutionResult {
	return r.Context.Results()
}

// Wait blocks until the run finishes or ctx is cancelled, then returns
// the stage results and the run's failure cause, if any.
func (r *Run) Wait(ctx context.Context) (map[string]ExecutionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.Context.Results(), r.Err()
	}
}

// Cancel stops the run. Safe to call multiple times.
func (r *Run) Cancel() {
	r.cancel()
}

// execute runs the pipeline stage by stage. Called once, on its own
// goroutine, by the orchestrator.
func (r *Run) execute() {
	total := len(r.Pipeline.Stages)

	for i, ps := range r.Pipeline.Stages {
		stage := ps.Stage
		name := stage.Name()

		r.mu.Lock()
		r.currentStage = name
		r.mu.Unlock()

		r.orchestrator.emitEvent(Event{
			Type:      EventStageStarted,
			RunID:     r.ID,
			Pipeline:  r.Pipeline.Name,
			Stage:     name,
			Progress:  float64(i) / float64(total),
			Timestamp: time.Now(),
		})

		result, err := r.executeStage(ps)
		if err != nil {
			r.finish(StatusFailed, err)
			return
		}

		r.Context.RecordResult(*result)

		r.mu.Lock()
		r.metrics.StagesCompleted++
		r.metrics.Usage.Add(result.Usage)
		r.mu.Unlock()

		if d := r.orchestrator.dashboard; d != nil {
			d.Observe(name, result.Duration, false)
		}

		r.orchestrator.emitEvent(Event{
			Type:      EventStageCompleted,
			RunID:     r.ID,
			Pipeline:  r.Pipeline.Name,
			Stage:     name,
			Progress:  float64(i+1) / float64(total),
			Timestamp: time.Now(),
		})
	}

	r.finish(StatusCompleted, nil)
}

// executeStage runs one stage with its retry policy and timeout.
func (r *Run) executeStage(ps PipelineStage) (*ExecutionResult, error) {
	stage := ps.Stage
	name := stage.Name()

	policy := ps.Retry
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	timeout := ps.Timeout
	if timeout == 0 {
		timeout = DefaultStageTimeout
	}

	backend := r.resolveBackend(stage)

	start := time.Now()
	usage := UsageMetrics{}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts = attempt + 1
		task := AgentTask{
			RunID:   r.ID,
			Stage:   name,
			Attempt: attempt + 1,
		}

		attemptCtx, cancel := context.WithTimeout(r.ctx, timeout)
		out, err := stage.Execute(attemptCtx, r.Context, task, backend)
		cancel()

		if err == nil {
			usage.Add(out.Usage)
			slog.Debug("stage succeeded",
				"run_id", r.ID,
				"stage", name,
				"attempt", attempt+1,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return &ExecutionResult{
				Stage:    name,
				Output:   out.Data,
				Attempts: attempt + 1,
				Duration: time.Since(start),
				Usage:    usage,
			}, nil
		}

		lastErr = err
		r.mu.Lock()
		r.metrics.Errors++
		r.mu.Unlock()

		if d := r.orchestrator.dashboard; d != nil {
			d.Observe(name, time.Since(start), true)
		}

		slog.Warn("stage failed",
			"run_id", r.ID,
			"stage", name,
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"error", err,
			"error_class", ClassifyError(err).String(),
		)

		// The run's own context ending means cancellation, not a
		// stage timeout: don't burn the remaining attempts.
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}

		if !ShouldRetry(err, policy, attempt) {
			break
		}

		r.mu.Lock()
		r.metrics.Retries++
		r.mu.Unlock()

		delay := retryDelay(policy.Backoff, attempt)
		if delay > 0 {
			r.orchestrator.emitEvent(Event{
				Type:      EventStageRetrying,
				RunID:     r.ID,
				Pipeline:  r.Pipeline.Name,
				Stage:     name,
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
			select {
			case <-r.ctx.Done():
				return nil, r.ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, &StageError{
		RunID:    r.ID,
		Stage:    name,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// resolveBackend picks the LLM for a stage: agent override first, then
// the orchestrator default.
func (r *Run) resolveBackend(stage Stage) llm.LLM {
	if as, ok := stage.(*AgentStage); ok && as.Agent.LLM != nil {
		return as.Agent.LLM
	}
	return r.orchestrator.defaultLLM
}

// finish transitions the run to a terminal state exactly once.
func (r *Run) finish(status Status, err error) {
	r.mu.Lock()
	if r.status.Finished() {
		r.mu.Unlock()
		return
	}
	if err != nil && r.ctx.Err() == context.Canceled {
		status = StatusCanceled
	}
	r.status = status
	r.err = err
	r.currentStage = ""
	r.metrics.CompletedAt = time.Now()
	r.mu.Unlock()

	// Release the run context and anything watching it.
	r.cancel()

	close(r.done)
	r.orchestrator.runFinished(r, status, err)
}

// retryDelay computes the delay before the next retry attempt.
func retryDelay(cfg BackoffConfig, attempt int) time.Duration {
	if cfg.Initial == 0 {
		return 0
	}

	var delay time.Duration
	switch cfg.Type {
	case BackoffExponential:
		multiplier := cfg.Multiplier
		if multiplier == 0 {
			multiplier = 2.0
		}
		delay = time.Duration(float64(cfg.Initial) * math.Pow(multiplier, float64(attempt)))
	case BackoffLinear:
		delay = cfg.Initial * time.Duration(attempt+1)
	default:
		delay = cfg.Initial
	}

	if cfg.Max > 0 && delay > cfg.Max {
		delay = cfg.Max
	}

	if cfg.Jitter > 0 {
		jitterRange := float64(delay) * cfg.Jitter
		jitter := (rand.Float64()*2 - 1) * jitterRange // -jitter to +jitter
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
