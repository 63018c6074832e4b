package evolution

import (
	"context"
	"fmt"
)

// Evaluator measures a genome and returns named metrics. Production
// evaluators run the generation pipeline with the candidate parameters
// and measure the outcome; test evaluators compute synthetic functions.
type Evaluator interface {
	Evaluate(ctx context.Context, g Genome) (map[string]float64, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, g Genome) (map[string]float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, g Genome) (map[string]float64, error) {
	return f(ctx, g)
}

// FitnessCalculator folds evaluator metrics into a scalar fitness as a
// weighted sum. Negative weights penalize (latency, cost); positive
// weights reward (completeness, quality). Missing metrics score zero.
type FitnessCalculator struct {
	Weights map[string]float64
}

// NewFitnessCalculator validates the weight table.
func NewFitnessCalculator(weights map[string]float64) (*FitnessCalculator, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("no fitness weights")
	}
	return &FitnessCalculator{Weights: weights}, nil
}

// Score computes the weighted sum over metrics.
func (f *FitnessCalculator) Score(metrics map[string]float64) float64 {
	score := 0.0
	for name, weight := range f.Weights {
		score += weight * metrics[name]
	}
	return score
}
