package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CycleState is the shared state of one self-evolution cycle over a
// source tree. Stages fill it in order.
type CycleState struct {
	// SourceDir is the tree under evolution
	SourceDir string

	// Findings is the research stage's analysis
	Findings []string

	// Plan is the ordered change plan
	Plan []string

	// Changed lists files the refactor stage touched
	Changed []string

	// Metrics are the evaluate stage's measurements
	Metrics map[string]float64
}

// CycleStage runs one stage of the evolution cycle against the state.
type CycleStage func(ctx context.Context, state *CycleState) error

// Cycle is the research, plan, refactor, evaluate loop applied to a
// source tree. Evaluate feeds the fitness calculator; a fitness below
// the baseline marks the cycle regressed.
type Cycle struct {
	Research CycleStage
	Plan     CycleStage
	Refactor CycleStage

	// Evaluate measures the tree after refactoring
	Evaluate func(ctx context.Context, state *CycleState) (map[string]float64, error)

	// Fitness folds the measurements into a score
	Fitness *FitnessCalculator

	// Baseline is the fitness the cycle must not regress below.
	// Zero means no baseline (first cycle).
	Baseline float64
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Findings []string           `json:"findings"`
	Plan     []string           `json:"plan"`
	Changed  []string           `json:"changed"`
	Metrics  map[string]float64 `json:"metrics"`
	Fitness  float64            `json:"fitness"`
	Baseline float64            `json:"baseline"`

	// Regressed is true when fitness fell below the baseline; the
	// caller is expected to discard the changes
	Regressed bool `json:"regressed"`

	Elapsed time.Duration `json:"-"`
}

// Run executes the four stages in order. Stage errors abort the cycle;
// a fitness regression completes it with Regressed set.
func (c *Cycle) Run(ctx context.Context, sourceDir string) (*CycleResult, error) {
	if c.Research == nil || c.Plan == nil || c.Refactor == nil || c.Evaluate == nil {
		return nil, fmt.Errorf("cycle stage missing")
	}
	if c.Fitness == nil {
		return nil, fmt.Errorf("cycle has no fitness calculator")
	}

	start := time.Now()
	state := &CycleState{SourceDir: sourceDir}

	stages := []struct {
		name string
		fn   CycleStage
	}{
		{"research", c.Research},
		{"plan", c.Plan},
		{"refactor", c.Refactor},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Debug("cycle stage", "stage", s.name, "source", sourceDir)
		if err := s.fn(ctx, state); err != nil {
			return nil, fmt.Errorf("cycle stage %s: %w", s.name, err)
		}
	}

	metrics, err := c.Evaluate(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("cycle stage evaluate: %w", err)
	}
	state.Metrics = metrics

	fitness := c.Fitness.Score(metrics)
	result := &CycleResult{
		Findings: state.Findings,
		Plan:     state.Plan,
		Changed:  state.Changed,
		Metrics:  metrics,
		Fitness:  fitness,
		Baseline: c.Baseline,
		Elapsed:  time.Since(start),
	}

	if c.Baseline != 0 && fitness < c.Baseline {
		result.Regressed = true
		slog.Warn("evolution cycle regressed",
			"fitness", fitness,
			"baseline", c.Baseline,
			"changed_files", len(state.Changed),
		)
	}

	return result, nil
}
