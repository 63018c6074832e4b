package tdev

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tdevlabs/tdev/llm"
	"github.com/tdevlabs/tdev/monitor"
	"github.com/tdevlabs/tdev/workspace"
)

// Orchestrator manages pipeline runs.
type Orchestrator struct {
	runs map[string]*Run
	mu   sync.RWMutex

	// Configuration
	maxRuns     int
	defaultLLM  llm.LLM
	persistence Persistence
	workspaces  *workspace.Manager
	dashboard   *monitor.Dashboard

	// Lifecycle callbacks
	onStarted   []func(*Run)
	onCompleted []func(*Run)
	onFailed    []func(*Run, error)
	onEvent     []func(Event)
	callbackMu  sync.RWMutex

	// Shutdown coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		runs:    make(map[string]*Run),
		maxRuns: DefaultMaxRuns,
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithMaxRuns sets the maximum number of concurrent runs.
func WithMaxRuns(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxRuns = n
	}
}

// WithLLM sets the default LLM backend.
func WithLLM(backend llm.LLM) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultLLM = backend
	}
}

// WithPersistence enables run state persistence.
func WithPersistence(p Persistence) OrchestratorOption {
	return func(o *Orchestrator) {
		o.persistence = p
	}
}

// WithWorkspaces gives each run an isolated project directory.
func WithWorkspaces(m *workspace.Manager) OrchestratorOption {
	return func(o *Orchestrator) {
		o.workspaces = m
	}
}

// WithDashboard records per-stage samples into a performance dashboard.
func WithDashboard(d *monitor.Dashboard) OrchestratorOption {
	return func(o *Orchestrator) {
		o.dashboard = d
	}
}

// StartOption configures a started run.
type StartOption func(*Run)

// WithParams overrides the run's generation parameters.
func WithParams(p GenerationParams) StartOption {
	return func(r *Run) {
		r.Context.Params = p
	}
}

// WithRunContext sets an additional parent context for the run. The
// run stops when either this context or the orchestrator's ends.
func WithRunContext(ctx context.Context) StartOption {
	return func(r *Run) {
		oldCancel := r.cancel
		rctx, cancel := context.WithCancel(ctx)
		r.ctx = rctx
		r.cancel = func() {
			cancel()
			oldCancel()
		}
		// Propagate orchestrator shutdown into the new context.
		stop := context.AfterFunc(r.orchestrator.ctx, cancel)
		go func() {
			<-rctx.Done()
			stop()
		}()
	}
}

// WithRunTimeout bounds the whole run.
func WithRunTimeout(d time.Duration) StartOption {
	return func(r *Run) {
		ctx, cancel := context.WithTimeout(r.ctx, d)
		r.ctx = ctx
		oldCancel := r.cancel
		r.cancel = func() {
			cancel()
			if oldCancel != nil {
				oldCancel()
			}
		}
	}
}

// StartRun spawns a run of the pipeline for the given request and
// begins executing it asynchronously.
func (o *Orchestrator) StartRun(p *Pipeline, req ServiceRequest, opts ...StartOption) (*Run, error) {
	if len(p.Stages) == 0 {
		return nil, ErrEmptyPipeline
	}

	o.mu.Lock()
	if o.active() >= o.maxRuns {
		o.mu.Unlock()
		return nil, ErrMaxRunsReached
	}

	req.ID = uuid.New().String()[:8]
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithCancel(o.ctx)
	r := &Run{
		ID:        req.ID,
		Pipeline:  p,
		Context:   NewPipelineContext(req),
		StartedAt: time.Now(),
		status:    StatusPending,
		metrics:   RunMetrics{StartedAt: time.Now()},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),

		orchestrator: o,
	}

	for _, opt := range opts {
		opt(r)
	}

	if o.defaultLLM == nil && pipelineNeedsBackend(p) {
		o.mu.Unlock()
		return nil, ErrNoBackend
	}

	if o.workspaces != nil {
		dir, err := o.workspaces.Create(r.ID)
		if err != nil {
			o.mu.Unlock()
			return nil, err
		}
		r.Context.WorkDir = dir
	}

	o.runs[r.ID] = r
	o.mu.Unlock()

	r.mu.Lock()
	r.status = StatusRunning
	r.mu.Unlock()

	o.persistState()

	slog.Info("run started",
		"run_id", r.ID,
		"pipeline", p.Name,
		"stages", len(p.Stages),
	)

	monitor.RunStarted()
	o.emitStarted(r)
	o.emitEvent(Event{
		Type:      EventRunStarted,
		RunID:     r.ID,
		Pipeline:  p.Name,
		Timestamp: time.Now(),
	})

	go r.execute()

	return r, nil
}

// pipelineNeedsBackend reports whether any stage lacks its own LLM.
func pipelineNeedsBackend(p *Pipeline) bool {
	for _, ps := range p.Stages {
		as, ok := ps.Stage.(*AgentStage)
		if !ok {
			continue
		}
		if as.Agent.LLM == nil {
			return true
		}
	}
	return false
}

// active counts non-finished runs. Caller must hold o.mu.
func (o *Orchestrator) active() int {
	n := 0
	for _, r := range o.runs {
		if !r.Status().Finished() {
			n++
		}
	}
	return n
}

// Get returns a run by ID.
func (o *Orchestrator) Get(id string) *Run {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[id]
}

// List returns all runs.
func (o *Orchestrator) List() []*Run {
	o.mu.RLock()
	defer o.mu.RUnlock()

	runs := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	return runs
}

// Cancel stops a run.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.RLock()
	r, ok := o.runs[id]
	o.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}
	if r.Status().Finished() {
		return ErrRunNotActive
	}

	r.Cancel()
	return nil
}

// Remove drops a finished run from the orchestrator's table.
func (o *Orchestrator) Remove(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	r, ok := o.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if !r.Status().Finished() {
		return ErrRunNotActive
	}
	delete(o.runs, id)
	return nil
}

// Discard removes a finished run and deletes its workspace directory.
// Used for throwaway runs, like evolution benchmarks, whose output
// nobody will download.
func (o *Orchestrator) Discard(id string) error {
	if err := o.Remove(id); err != nil {
		return err
	}
	if o.workspaces != nil {
		if err := o.workspaces.Remove(id); err != nil && !os.IsNotExist(err) {
			slog.Warn("discard workspace failed", "run_id", id, "error", err)
		}
	}
	return nil
}

// Shutdown cancels all runs and waits for them to stop or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.mu.RLock()
		runs := make([]*Run, 0, len(o.runs))
		for _, r := range o.runs {
			runs = append(runs, r)
		}
		o.mu.RUnlock()

		for _, r := range runs {
			if !r.Status().Finished() {
				<-r.done
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRunStarted registers a callback for when a run starts.
func (o *Orchestrator) OnRunStarted(fn func(*Run)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onStarted = append(o.onStarted, fn)
}

// OnRunCompleted registers a callback for when a run completes.
func (o *Orchestrator) OnRunCompleted(fn func(*Run)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onCompleted = append(o.onCompleted, fn)
}

// OnRunFailed registers a callback for when a run fails or is canceled.
func (o *Orchestrator) OnRunFailed(fn func(*Run, error)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onFailed = append(o.onFailed, fn)
}

// OnEvent registers a callback receiving the full event feed,
// including stage-level progress.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onEvent = append(o.onEvent, fn)
}

// runFinished is called by a run when it reaches a terminal state.
func (o *Orchestrator) runFinished(r *Run, status Status, err error) {
	o.persistState()
	monitor.RunFinished(string(status))

	switch status {
	case StatusCompleted:
		slog.Info("run completed",
			"run_id", r.ID,
			"pipeline", r.Pipeline.Name,
			"cost_usd", r.Metrics().Usage.CostUSD,
		)
		o.emitCompleted(r)
		o.emitEvent(Event{
			Type:      EventRunCompleted,
			RunID:     r.ID,
			Pipeline:  r.Pipeline.Name,
			Progress:  1.0,
			Timestamp: time.Now(),
		})
	case StatusCanceled:
		slog.Info("run canceled", "run_id", r.ID, "pipeline", r.Pipeline.Name)
		o.emitFailed(r, err)
		o.emitEvent(Event{
			Type:      EventRunCanceled,
			RunID:     r.ID,
			Pipeline:  r.Pipeline.Name,
			Timestamp: time.Now(),
		})
	default:
		slog.Error("run failed",
			"run_id", r.ID,
			"pipeline", r.Pipeline.Name,
			"error", err,
		)
		o.emitFailed(r, err)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		o.emitEvent(Event{
			Type:      EventRunFailed,
			RunID:     r.ID,
			Pipeline:  r.Pipeline.Name,
			Error:     errMsg,
			Timestamp: time.Now(),
		})
	}
}

// emitStarted notifies all started callbacks.
func (o *Orchestrator) emitStarted(r *Run) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Run), len(o.onStarted))
	copy(callbacks, o.onStarted)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(r)
	}
}

// emitCompleted notifies all completed callbacks.
func (o *Orchestrator) emitCompleted(r *Run) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Run), len(o.onCompleted))
	copy(callbacks, o.onCompleted)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(r)
	}
}

// emitFailed notifies all failed callbacks.
func (o *Orchestrator) emitFailed(r *Run, err error) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Run, error), len(o.onFailed))
	copy(callbacks, o.onFailed)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(r, err)
	}
}

// emitEvent fans an event out to all event callbacks, synchronously so
// ordering is preserved for subscribers.
func (o *Orchestrator) emitEvent(e Event) {
	o.callbackMu.RLock()
	callbacks := make([]func(Event), len(o.onEvent))
	copy(callbacks, o.onEvent)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		fn(e)
	}
}

// persistState saves run state.
func (o *Orchestrator) persistState() {
	if o.persistence == nil {
		return
	}

	o.mu.RLock()
	states := make([]RunState, 0, len(o.runs))
	for _, r := range o.runs {
		r.mu.RLock()
		states = append(states, RunState{
			ID:           r.ID,
			Pipeline:     r.Pipeline.Name,
			Request:      r.Context.Request,
			Status:       r.status,
			CurrentStage: r.currentStage,
			WorkDir:      r.Context.WorkDir,
			StartedAt:    r.StartedAt,
			Metrics:      r.metrics,
		})
		r.mu.RUnlock()
	}
	o.mu.RUnlock()

	if err := o.persistence.Save(states); err != nil {
		slog.Warn("persist run state failed", "error", err)
	}
}

// Recover loads persisted run states. Runs that were active when the
// process stopped are returned so callers can decide whether to
// resubmit them; they are not respawned automatically.
func (o *Orchestrator) Recover() ([]RunState, error) {
	if o.persistence == nil {
		return nil, nil
	}

	states, err := o.persistence.Load()
	if err != nil {
		return nil, err
	}

	interrupted := make([]RunState, 0)
	for _, s := range states {
		if s.Status == StatusRunning || s.Status == StatusPending {
			interrupted = append(interrupted, s)
		}
	}
	return interrupted, nil
}
