package evolution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCycle(t *testing.T, metrics map[string]float64) (*Cycle, *[]string) {
	t.Helper()

	order := &[]string{}
	record := func(name string, fill func(*CycleState)) CycleStage {
		return func(ctx context.Context, state *CycleState) error {
			*order = append(*order, name)
			fill(state)
			return nil
		}
	}

	fitness, err := NewFitnessCalculator(map[string]float64{"quality": 1.0})
	require.NoError(t, err)

	return &Cycle{
		Research: record("research", func(s *CycleState) { s.Findings = []string{"slow parser"} }),
		Plan:     record("plan", func(s *CycleState) { s.Plan = []string{"rewrite parser"} }),
		Refactor: record("refactor", func(s *CycleState) { s.Changed = []string{"parser.go"} }),
		Evaluate: func(ctx context.Context, state *CycleState) (map[string]float64, error) {
			*order = append(*order, "evaluate")
			return metrics, nil
		},
		Fitness: fitness,
	}, order
}

func TestCycleRunsStagesInOrder(t *testing.T) {
	cycle, order := testCycle(t, map[string]float64{"quality": 0.9})

	result, err := cycle.Run(context.Background(), "/src")
	require.NoError(t, err)

	assert.Equal(t, []string{"research", "plan", "refactor", "evaluate"}, *order)
	assert.Equal(t, []string{"slow parser"}, result.Findings)
	assert.Equal(t, []string{"rewrite parser"}, result.Plan)
	assert.Equal(t, []string{"parser.go"}, result.Changed)
	assert.Equal(t, 0.9, result.Fitness)
	assert.False(t, result.Regressed)
}

func TestCycleStageErrorAborts(t *testing.T) {
	cycle, order := testCycle(t, nil)
	boom := errors.New("plan rejected")
	cycle.Plan = func(ctx context.Context, state *CycleState) error {
		return boom
	}

	_, err := cycle.Run(context.Background(), "/src")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "plan")
	assert.Equal(t, []string{"research"}, *order, "later stages must not run")
}

func TestCycleRegression(t *testing.T) {
	cycle, _ := testCycle(t, map[string]float64{"quality": 0.4})
	cycle.Baseline = 0.7

	result, err := cycle.Run(context.Background(), "/src")
	require.NoError(t, err)
	assert.True(t, result.Regressed)
	assert.Equal(t, 0.7, result.Baseline)
}

func TestCycleNoBaselineNeverRegresses(t *testing.T) {
	cycle, _ := testCycle(t, map[string]float64{"quality": -5})

	result, err := cycle.Run(context.Background(), "/src")
	require.NoError(t, err)
	assert.False(t, result.Regressed, "zero baseline means first cycle, nothing to regress from")
}

func TestCycleMissingPieces(t *testing.T) {
	cycle, _ := testCycle(t, map[string]float64{"quality": 1})
	cycle.Refactor = nil
	_, err := cycle.Run(context.Background(), "/src")
	assert.Error(t, err)

	cycle, _ = testCycle(t, map[string]float64{"quality": 1})
	cycle.Fitness = nil
	_, err = cycle.Run(context.Background(), "/src")
	assert.Error(t, err)
}

func TestCycleCanceledContext(t *testing.T) {
	cycle, order := testCycle(t, map[string]float64{"quality": 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cycle.Run(ctx, "/src")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *order)
}
