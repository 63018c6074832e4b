package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tdev "github.com/tdevlabs/tdev"
	"github.com/tdevlabs/tdev/workspace"
)

// --- Generation Handlers ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "description is required"})
		return
	}

	sreq := tdev.ServiceRequest{
		Description: req.Description,
		ProjectName: req.ProjectName,
		Features:    req.Features,
		Constraints: req.Constraints,
	}

	var opts []tdev.StartOption
	if req.Params != nil {
		opts = append(opts, tdev.WithParams(applyParams(tdev.DefaultGenerationParams(), req.Params)))
	}

	run, err := s.orch.StartRun(s.pipeline, sreq, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tdev.ErrMaxRunsReached) {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		RunID:  run.ID,
		Status: string(run.Status()),
	})
}

// applyParams overlays request overrides onto the defaults.
func applyParams(base tdev.GenerationParams, p *ParamsRequest) tdev.GenerationParams {
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		base.TopP = *p.TopP
	}
	if p.MaxTokens != nil {
		base.MaxTokens = *p.MaxTokens
	}
	if p.PlanDepth != nil {
		base.PlanDepth = *p.PlanDepth
	}
	if p.Parallelism != nil {
		base.Parallelism = *p.Parallelism
	}
	return base
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	// Live runs first, then persisted runs the orchestrator no longer holds.
	live := s.orch.List()
	seen := make(map[string]bool, len(live))

	resp := make([]RunResponse, 0, len(live))
	for _, run := range live {
		resp = append(resp, runToResponse(run))
		seen[run.ID] = true
	}

	if stored, err := s.store.ListRuns(queryLimit(r, 100)); err == nil {
		for _, rec := range stored {
			if !seen[rec.ID] {
				resp = append(resp, recordToResponse(rec))
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if run := s.orch.Get(id); run != nil {
		writeJSON(w, http.StatusOK, runToResponse(run))
		return
	}

	rec, err := s.store.GetRun(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, recordToResponse(rec))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Cancel(id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tdev.ErrRunNotFound):
			status = http.StatusNotFound
		case errors.Is(err, tdev.ErrRunNotActive):
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.store.ListRunEvents(id, queryLimit(r, 500))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if events == nil {
		events = []RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleDownload streams a zip archive of the run's generated project.
// Only completed runs can be downloaded.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.workspaces == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "workspaces not configured"})
		return
	}

	if run := s.orch.Get(id); run != nil && !run.Status().Finished() {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "run not completed"})
		return
	}

	dir, err := s.workspaces.Dir(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no project for run"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))

	if err := workspace.Archive(dir, w); err != nil {
		// Headers are already sent; the truncated stream is the signal.
		slog.Warn("archive stream failed", "run", id, "error", err)
	}
}

// --- Observability Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, run := range s.orch.List() {
		if !run.Status().Finished() {
			active++
		}
	}

	storeOK := s.store.Ping() == nil

	resp := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		ActiveRuns:  active,
		TotalRuns:   len(s.orch.List()),
		StoreOK:     storeOK,
		LLMProvider: s.cfg.LLM.Provider,
	}
	if s.sandbox != nil {
		resp.SandboxOK = s.sandbox.Available()
	}
	if !storeOK {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}

	runs, err := s.store.ListRuns(1000)
	if err == nil {
		resp.TotalRuns = len(runs)
		for _, rec := range runs {
			switch rec.Status {
			case string(tdev.StatusRunning), string(tdev.StatusPending):
				resp.RunningRuns++
			case string(tdev.StatusCompleted):
				resp.CompletedRuns++
			case string(tdev.StatusFailed):
				resp.FailedRuns++
			}
			resp.TotalInputTokens += rec.InputTokens
			resp.TotalOutputTokens += rec.OutputTokens
			resp.TotalCostUSD += rec.CostUSD
		}
	}

	if s.dashboard != nil {
		for _, st := range s.dashboard.Snapshot() {
			resp.Stages = append(resp.Stages, StageStatsItem{
				Stage:  st.Stage,
				Count:  st.Count,
				Errors: st.Errors,
				MeanMs: st.MeanMs,
				P50Ms:  st.P50Ms,
				P95Ms:  st.P95Ms,
				MaxMs:  st.MaxMs,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func runToResponse(run *tdev.Run) RunResponse {
	m := run.Metrics()
	errMsg := ""
	if err := run.Err(); err != nil {
		errMsg = err.Error()
	}

	duration := 0.0
	if !m.CompletedAt.IsZero() {
		duration = m.CompletedAt.Sub(m.StartedAt).Seconds()
	} else if !m.StartedAt.IsZero() {
		duration = time.Since(m.StartedAt).Seconds()
	}

	return RunResponse{
		ID:           run.ID,
		Pipeline:     run.Pipeline.Name,
		ProjectName:  run.Context.Request.ProjectName,
		Status:       string(run.Status()),
		CurrentStage: run.CurrentStage(),
		StartedAt:    run.StartedAt,
		Error:        errMsg,
		Metrics: MetricsResponse{
			StagesCompleted: m.StagesCompleted,
			Attempts:        m.Retries,
			InputTokens:     m.Usage.InputTokens,
			OutputTokens:    m.Usage.OutputTokens,
			CostUSD:         m.Usage.CostUSD,
			DurationSeconds: duration,
		},
	}
}

func recordToResponse(rec RunRecord) RunResponse {
	duration := 0.0
	if rec.FinishedAt != nil {
		duration = rec.FinishedAt.Sub(rec.StartedAt).Seconds()
	}
	return RunResponse{
		ID:          rec.ID,
		Pipeline:    rec.Pipeline,
		ProjectName: rec.ProjectName,
		Status:      rec.Status,
		StartedAt:   rec.StartedAt,
		Error:       rec.Error,
		Metrics: MetricsResponse{
			InputTokens:     rec.InputTokens,
			OutputTokens:    rec.OutputTokens,
			CostUSD:         rec.CostUSD,
			DurationSeconds: duration,
		},
	}
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
