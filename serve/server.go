// Package serve exposes the T-Developer REST API: generation runs,
// project downloads, evolution runs, schedules, SSE progress events,
// and Prometheus metrics.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/config"
	"github.com/tdevlabs/tdev/monitor"
	"github.com/tdevlabs/tdev/sandbox"
	"github.com/tdevlabs/tdev/workspace"
)

// Server is the HTTP server for the T-Developer API.
type Server struct {
	orch       *tdev.Orchestrator
	pipeline   *tdev.Pipeline
	workspaces *workspace.Manager
	dashboard  *monitor.Dashboard
	sandbox    *sandbox.Manager
	broker     *EventBroker
	store      Store
	scheduler  *Scheduler
	notifier   *Notifier
	evolutions *evolutionManager
	cfg        config.Config
	startedAt  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithWorkspaces provides the workspace manager used for downloads.
func WithWorkspaces(m *workspace.Manager) Option {
	return func(s *Server) {
		s.workspaces = m
	}
}

// WithDashboard provides the in-memory stage latency dashboard.
func WithDashboard(d *monitor.Dashboard) Option {
	return func(s *Server) {
		s.dashboard = d
	}
}

// WithSandbox provides the validation sandbox, reported by health.
func WithSandbox(sb *sandbox.Manager) Option {
	return func(s *Server) {
		s.sandbox = sb
	}
}

// New creates a Server around an orchestrator and the pipeline it runs.
func New(orch *tdev.Orchestrator, pipeline *tdev.Pipeline, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		pipeline: pipeline,
		broker:   NewEventBroker(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes the store, wires callbacks, registers routes, and
// listens for HTTP requests. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	store, err := NewSQLiteStore(s.cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.store = store
	if err := store.Init(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	s.evolutions = newEvolutionManager(s)

	if s.cfg.Telegram.Token != "" {
		notifier, err := NewNotifier(s.cfg.Telegram.Token, s.cfg.Telegram.ChatID)
		if err != nil {
			slog.Warn("telegram notifier init failed, notifications disabled", "error", err)
		} else {
			s.notifier = notifier
		}
	}

	// Wire orchestrator callbacks to broker + store.
	s.wireCallbacks()

	// Restore persisted schedules and start the cron runner.
	s.scheduler = NewScheduler(s.evolutions, store)
	if err := s.scheduler.Restore(); err != nil {
		slog.Warn("restore schedules failed", "error", err)
	}
	go s.scheduler.Start(ctx)

	go s.janitor(ctx)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: corsMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tdev serve started", "addr", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errCh:
		return err
	}

	// Close broker first — this closes all SSE subscriber channels,
	// unblocking their handlers so the HTTP server can drain cleanly.
	s.broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	return nil
}

// registerRoutes adds all API routes to the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Generation runs
	mux.HandleFunc("POST /api/v1/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleCancelRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/v1/download/{id}", s.handleDownload)

	// Evolution
	mux.HandleFunc("POST /api/v1/evolution/runs", s.handleStartEvolution)
	mux.HandleFunc("GET /api/v1/evolution/runs", s.handleListEvolutionRuns)
	mux.HandleFunc("GET /api/v1/evolution/runs/{id}", s.handleGetEvolutionRun)
	mux.HandleFunc("GET /api/v1/evolution/runs/{id}/history", s.handleEvolutionHistory)

	// Schedules
	mux.HandleFunc("PUT /api/v1/schedules/{name}", s.handleUpsertSchedule)
	mux.HandleFunc("DELETE /api/v1/schedules/{name}", s.handleDeleteSchedule)
	mux.HandleFunc("GET /api/v1/schedules", s.handleListSchedules)

	// Observability
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/events", s.handleSSE)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// wireCallbacks hooks the orchestrator's lifecycle events into the
// broker, the store, and the notifier.
func (s *Server) wireCallbacks() {
	s.orch.OnEvent(func(e tdev.Event) {
		s.broker.Publish(BrokerEvent{
			Type:      string(e.Type),
			RunID:     e.RunID,
			Pipeline:  e.Pipeline,
			Stage:     e.Stage,
			Progress:  e.Progress,
			Message:   e.Message,
			Error:     e.Error,
			Timestamp: e.Timestamp,
		})

		if err := s.store.InsertRunEvent(RunEvent{
			RunID:     e.RunID,
			Type:      string(e.Type),
			Stage:     e.Stage,
			Message:   truncate(e.Message, 4096),
			Error:     truncate(e.Error, 4096),
			Timestamp: e.Timestamp,
		}); err != nil {
			slog.Warn("persist run event failed", "run", e.RunID, "error", err)
		}
	})

	s.orch.OnRunStarted(func(r *tdev.Run) {
		if err := s.store.InsertRun(RunRecord{
			ID:          r.ID,
			Pipeline:    r.Pipeline.Name,
			ProjectName: r.Context.Request.ProjectName,
			Description: truncate(r.Context.Request.Description, 4096),
			Status:      string(r.Status()),
			StartedAt:   r.StartedAt,
		}); err != nil {
			slog.Warn("persist run failed", "run", r.ID, "error", err)
		}
	})

	s.orch.OnRunCompleted(func(r *tdev.Run) {
		s.finishRun(r, "")
		if s.notifier != nil {
			s.notifier.RunCompleted(r)
		}
	})

	s.orch.OnRunFailed(func(r *tdev.Run, err error) {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		s.finishRun(r, msg)
		if s.notifier != nil {
			s.notifier.RunFailed(r, err)
		}
	})
}

// finishRun snapshots a finished run's metrics into the store.
func (s *Server) finishRun(r *tdev.Run, errMsg string) {
	m := r.Metrics()
	now := time.Now()
	if err := s.store.UpdateRun(RunRecord{
		ID:           r.ID,
		Status:       string(r.Status()),
		Error:        truncate(errMsg, 4096),
		InputTokens:  m.Usage.InputTokens,
		OutputTokens: m.Usage.OutputTokens,
		CostUSD:      m.Usage.CostUSD,
		FinishedAt:   &now,
	}); err != nil {
		slog.Warn("persist run update failed", "run", r.ID, "error", err)
	}
}

// janitorInterval is how often expired runs and workspaces are reaped.
const janitorInterval = time.Hour

// janitor periodically reaps expired runs until ctx ends.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

// reapExpired drops finished runs older than the configured retention
// from the orchestrator's table and removes their workspace
// directories. Persisted run records stay in the store.
func (s *Server) reapExpired() {
	maxAge := s.cfg.Workspace.MaxRunAge
	if maxAge <= 0 {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, run := range s.orch.List() {
		completedAt := run.Metrics().CompletedAt
		if completedAt.IsZero() || !completedAt.Before(cutoff) {
			continue
		}
		if err := s.orch.Remove(run.ID); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("expired runs removed", "count", removed)
	}

	if s.workspaces != nil {
		cleaned, err := s.workspaces.Clean(maxAge)
		if err != nil {
			slog.Warn("workspace clean failed", "error", err)
		} else if cleaned > 0 {
			slog.Info("expired workspaces removed", "count", cleaned)
		}
	}
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
