package tdev

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPipelineContextConcurrentAccess(t *testing.T) {
	pc := NewPipelineContext(ServiceRequest{Description: "test"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			pc.Set(fmt.Sprintf("key-%d", n), n)
		}(i)
		go func(n int) {
			defer wg.Done()
			pc.Get(fmt.Sprintf("key-%d", n))
			pc.RecordResult(ExecutionResult{Stage: fmt.Sprintf("stage-%d", n)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		v, ok := pc.Get(fmt.Sprintf("key-%d", i))
		if !ok || v != i {
			t.Errorf("key-%d = %v (ok=%v), want %d", i, v, ok, i)
		}
	}
	if len(pc.Results()) != 20 {
		t.Errorf("results = %d, want 20", len(pc.Results()))
	}
}

func TestPipelineContextResultsSnapshot(t *testing.T) {
	pc := NewPipelineContext(ServiceRequest{})
	pc.RecordResult(ExecutionResult{Stage: "plan", Attempts: 1})

	snap := pc.Results()
	snap["injected"] = ExecutionResult{Stage: "injected"}

	if _, ok := pc.Result("injected"); ok {
		t.Error("mutating the snapshot leaked into the context")
	}
}

func TestPipelineContextGetString(t *testing.T) {
	pc := NewPipelineContext(ServiceRequest{})
	pc.Set("text", "hello")
	pc.Set("number", 42)

	if got := pc.GetString("text"); got != "hello" {
		t.Errorf("GetString(text) = %q", got)
	}
	if got := pc.GetString("number"); got != "" {
		t.Errorf("GetString(number) = %q, want empty for non-string", got)
	}
	if got := pc.GetString("missing"); got != "" {
		t.Errorf("GetString(missing) = %q, want empty", got)
	}
}

func TestUsageMetricsAdd(t *testing.T) {
	u := UsageMetrics{InputTokens: 100, OutputTokens: 50, CostUSD: 0.01, Calls: 1}
	u.Add(UsageMetrics{InputTokens: 30, OutputTokens: 20, CostUSD: 0.005, Calls: 2})

	if u.InputTokens != 130 || u.OutputTokens != 70 || u.Calls != 3 {
		t.Errorf("after Add: %+v", u)
	}
	if diff := u.CostUSD - 0.015; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CostUSD = %v, want 0.015", u.CostUSD)
	}
}

func TestStatusFinished(t *testing.T) {
	finished := []Status{StatusCompleted, StatusFailed, StatusCanceled}
	for _, s := range finished {
		if !s.Finished() {
			t.Errorf("%v.Finished() = false", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		if s.Finished() {
			t.Errorf("%v.Finished() = true", s)
		}
	}
}

func TestPipelineStageNames(t *testing.T) {
	p := testPipeline(echoStage("a"), echoStage("b"), echoStage("c"))
	got := p.StageNames()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("StageNames = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("StageNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestServiceRequestDefaults(t *testing.T) {
	orch := NewOrchestrator(WithLLM(&mockLLM{}))
	defer orch.Shutdown(context.Background())

	run, err := orch.StartRun(testPipeline(echoStage("only")), ServiceRequest{Description: "x"})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	defer waitForRun(t, run)

	if run.Context.Request.ID != run.ID {
		t.Errorf("request ID %q != run ID %q", run.Context.Request.ID, run.ID)
	}
	if run.Context.Request.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted")
	}
	if time.Since(run.StartedAt) > time.Minute {
		t.Error("StartedAt not set to now")
	}
}
