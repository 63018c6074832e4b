package monitor

import (
	"sync"
	"testing"
	"time"
)

func TestDashboardObserveAndStage(t *testing.T) {
	d := NewDashboard()

	d.Observe("plan", 100*time.Millisecond, false)
	d.Observe("plan", 200*time.Millisecond, false)
	d.Observe("plan", 300*time.Millisecond, true)

	s, ok := d.Stage("plan")
	if !ok {
		t.Fatal("stage not found")
	}
	if s.Count != 3 {
		t.Errorf("count = %d, want 3", s.Count)
	}
	if s.Errors != 1 {
		t.Errorf("errors = %d, want 1", s.Errors)
	}
	if s.MeanMs != 200 {
		t.Errorf("mean = %v ms, want 200", s.MeanMs)
	}
	if s.MaxMs != 300 {
		t.Errorf("max = %v ms, want 300", s.MaxMs)
	}
	if s.P50Ms != 200 {
		t.Errorf("p50 = %v ms, want 200", s.P50Ms)
	}

	if _, ok := d.Stage("missing"); ok {
		t.Error("unknown stage reported present")
	}
}

func TestDashboardSnapshotSorted(t *testing.T) {
	d := NewDashboard()
	d.Observe("generate", time.Second, false)
	d.Observe("assembly", time.Second, false)
	d.Observe("plan", time.Second, false)

	snap := d.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d stages, want 3", len(snap))
	}
	want := []string{"assembly", "generate", "plan"}
	for i, w := range want {
		if snap[i].Stage != w {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Stage, w)
		}
	}
}

func TestDashboardRingOverflow(t *testing.T) {
	d := NewDashboard()

	// Overfill the ring: totals keep counting, percentiles only see
	// the window.
	for i := 0; i < ringSize+100; i++ {
		d.Observe("generate", time.Millisecond, false)
	}

	s, _ := d.Stage("generate")
	if s.Count != ringSize+100 {
		t.Errorf("count = %d, want %d", s.Count, ringSize+100)
	}
	if s.P95Ms != 1 {
		t.Errorf("p95 = %v ms, want 1", s.P95Ms)
	}
}

func TestDashboardPercentiles(t *testing.T) {
	d := NewDashboard()
	for i := 1; i <= 100; i++ {
		d.Observe("plan", time.Duration(i)*time.Millisecond, false)
	}

	s, _ := d.Stage("plan")
	if s.P50Ms != 50 {
		t.Errorf("p50 = %v ms, want 50", s.P50Ms)
	}
	if s.P95Ms != 95 {
		t.Errorf("p95 = %v ms, want 95", s.P95Ms)
	}
}

func TestDashboardConcurrentObserve(t *testing.T) {
	d := NewDashboard()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Observe("generate", time.Millisecond, false)
				d.Snapshot()
			}
		}()
	}
	wg.Wait()

	s, _ := d.Stage("generate")
	if s.Count != 1000 {
		t.Errorf("count = %d, want 1000", s.Count)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []time.Duration{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0.0, 10},
		{0.50, 20},
		{0.95, 40},
		{1.0, 40},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Errorf("percentile(empty) = %v, want 0", got)
	}
}
