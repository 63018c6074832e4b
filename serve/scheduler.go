package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires recurring evolution runs from cron expressions.
// Schedules are persisted in the store and restored on server start.
type Scheduler struct {
	c          *cron.Cron
	evolutions *evolutionManager
	store      Store

	mu      sync.Mutex
	entries map[string]cron.EntryID // schedule name → cron entry ID
}

// NewScheduler creates a Scheduler backed by the given store.
func NewScheduler(evolutions *evolutionManager, store Store) *Scheduler {
	return &Scheduler{
		c:          cron.New(),
		evolutions: evolutions,
		store:      store,
		entries:    make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.c.Start()
	slog.Info("scheduler started")
	<-ctx.Done()
	s.c.Stop()
	slog.Info("scheduler stopped")
}

// Restore loads persisted schedules into the cron runner.
func (s *Scheduler) Restore() error {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.register(sched); err != nil {
			slog.Warn("restore schedule failed", "name", sched.Name, "error", err)
		}
	}
	slog.Info("schedules restored", "count", len(schedules))
	return nil
}

// Upsert creates or replaces a schedule and persists it.
func (s *Scheduler) Upsert(sched Schedule) error {
	s.mu.Lock()
	if id, ok := s.entries[sched.Name]; ok {
		s.c.Remove(id)
		delete(s.entries, sched.Name)
	}
	s.mu.Unlock()

	if sched.Enabled {
		if err := s.register(sched); err != nil {
			return err
		}
	}

	if err := s.store.UpsertSchedule(sched); err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}
	slog.Info("schedule upserted", "name", sched.Name, "cron", sched.Cron, "enabled", sched.Enabled)
	return nil
}

// Delete removes a schedule from the runner and the store.
func (s *Scheduler) Delete(name string) error {
	s.mu.Lock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
	s.mu.Unlock()

	return s.store.DeleteSchedule(name)
}

// register adds a schedule's cron entry.
func (s *Scheduler) register(sched Schedule) error {
	var req EvolutionRequest
	if err := json.Unmarshal([]byte(sched.Spec), &req); err != nil {
		return fmt.Errorf("invalid schedule spec: %w", err)
	}

	id, err := s.c.AddFunc(sched.Cron, func() {
		slog.Info("schedule firing", "name", sched.Name)
		if _, err := s.evolutions.Start(req); err != nil {
			slog.Warn("scheduled evolution failed to start", "name", sched.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
	}

	s.mu.Lock()
	s.entries[sched.Name] = id
	s.mu.Unlock()
	return nil
}

// --- Schedule Handlers ---

func (s *Server) handleUpsertSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if req.Cron == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "cron is required"})
		return
	}

	spec, err := json.Marshal(req.Evolution)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sched := Schedule{
		Name:      name,
		Cron:      req.Cron,
		Enabled:   req.Enabled,
		Spec:      string(spec),
		CreatedAt: time.Now(),
	}
	if err := s.scheduler.Upsert(sched); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{
		Name:      sched.Name,
		Cron:      sched.Cron,
		Enabled:   sched.Enabled,
		CreatedAt: sched.CreatedAt,
	})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.scheduler.Delete(name); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := make([]ScheduleResponse, 0, len(schedules))
	for _, sched := range schedules {
		resp = append(resp, ScheduleResponse{
			Name:      sched.Name,
			Cron:      sched.Cron,
			Enabled:   sched.Enabled,
			CreatedAt: sched.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
