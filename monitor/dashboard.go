// Package monitor aggregates pipeline performance data: an in-memory
// dashboard for API snapshots and Prometheus collectors for scraping.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// ringSize bounds the latency samples kept per stage.
const ringSize = 256

// Dashboard aggregates per-stage execution samples. Safe for
// concurrent use.
type Dashboard struct {
	mu     sync.RWMutex
	stages map[string]*stageWindow
}

// stageWindow is a fixed-size ring of recent samples plus running totals.
type stageWindow struct {
	samples [ringSize]time.Duration
	next    int
	filled  bool

	count   int64
	errors  int64
	total   time.Duration
	maxSeen time.Duration
}

// StageStats is a point-in-time aggregate for one stage.
type StageStats struct {
	Stage      string        `json:"stage"`
	Count      int64         `json:"count"`
	Errors     int64         `json:"errors"`
	MeanMs     float64       `json:"mean_ms"`
	P50Ms      float64       `json:"p50_ms"`
	P95Ms      float64       `json:"p95_ms"`
	MaxMs      float64       `json:"max_ms"`
	LastSample time.Duration `json:"-"`
}

// NewDashboard creates an empty dashboard.
func NewDashboard() *Dashboard {
	return &Dashboard{stages: make(map[string]*stageWindow)}
}

// Observe records one stage execution sample.
func (d *Dashboard) Observe(stage string, duration time.Duration, failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.stages[stage]
	if !ok {
		w = &stageWindow{}
		d.stages[stage] = w
	}

	w.samples[w.next] = duration
	w.next++
	if w.next == ringSize {
		w.next = 0
		w.filled = true
	}

	w.count++
	if failed {
		w.errors++
	}
	w.total += duration
	if duration > w.maxSeen {
		w.maxSeen = duration
	}

	ObserveStage(stage, duration, failed)
}

// Snapshot returns aggregates for all stages, sorted by stage name.
func (d *Dashboard) Snapshot() []StageStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]StageStats, 0, len(d.stages))
	for name, w := range d.stages {
		out = append(out, w.stats(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Stage returns aggregates for one stage.
func (d *Dashboard) Stage(name string) (StageStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w, ok := d.stages[name]
	if !ok {
		return StageStats{}, false
	}
	return w.stats(name), true
}

// stats computes aggregates from the window. Caller must hold the lock.
func (w *stageWindow) stats(name string) StageStats {
	n := w.next
	if w.filled {
		n = ringSize
	}

	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s := StageStats{
		Stage:  name,
		Count:  w.count,
		Errors: w.errors,
		MaxMs:  float64(w.maxSeen.Microseconds()) / 1000,
	}
	if w.count > 0 {
		s.MeanMs = float64(w.total.Microseconds()) / 1000 / float64(w.count)
	}
	if n > 0 {
		s.P50Ms = float64(percentile(sorted, 0.50).Microseconds()) / 1000
		s.P95Ms = float64(percentile(sorted, 0.95).Microseconds()) / 1000
	}
	return s
}

// percentile returns the p-quantile of a sorted sample using
// nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
