package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tdevlabs/tdev/monitor"
)

// OptimizerConfig tunes the generation loop.
type OptimizerConfig struct {
	// PopulationSize is held constant across generations
	PopulationSize int `json:"population_size"`

	// Generations is the maximum number of generations
	Generations int `json:"generations"`

	// EliteCount individuals survive each generation unmodified
	EliteCount int `json:"elite_count"`

	// TournamentK is the tournament selection arity
	TournamentK int `json:"tournament_k"`

	// CrossoverRate is the probability a child is bred rather than
	// cloned from one parent
	CrossoverRate float64 `json:"crossover_rate"`

	// MutationRate is the initial per-gene mutation probability
	MutationRate float64 `json:"mutation_rate"`

	// MutationFloor bounds the annealed mutation rate from below
	MutationFloor float64 `json:"mutation_floor"`

	// MutationDecay anneals the mutation rate each generation
	MutationDecay float64 `json:"mutation_decay"`

	// Parallelism bounds concurrent evaluations (0 means population size)
	Parallelism int `json:"parallelism"`

	// Patience stops early after this many generations without
	// best-fitness improvement (0 disables early stop)
	Patience int `json:"patience"`

	// MinImprovement is the fitness delta that counts as progress
	MinImprovement float64 `json:"min_improvement"`

	// Seed makes the run deterministic; 0 seeds from the clock
	Seed int64 `json:"seed"`
}

// DefaultOptimizerConfig returns sensible defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		PopulationSize: 24,
		Generations:    40,
		EliteCount:     2,
		TournamentK:    3,
		CrossoverRate:  0.9,
		MutationRate:   0.25,
		MutationFloor:  0.05,
		MutationDecay:  0.97,
		Patience:       8,
		MinImprovement: 1e-6,
	}
}

// GenerationStats summarizes one generation.
type GenerationStats struct {
	Generation   int       `json:"generation"`
	BestFitness  float64   `json:"best_fitness"`
	MeanFitness  float64   `json:"mean_fitness"`
	StdDev       float64   `json:"std_dev"`
	MutationRate float64   `json:"mutation_rate"`
	Evaluated    int       `json:"evaluated"`
	Elapsed      float64   `json:"elapsed_seconds"`
	Best         Genome    `json:"-"`
	At           time.Time `json:"at"`
}

// Result is the outcome of an optimizer run.
type Result struct {
	Best        Individual        `json:"-"`
	BestGenome  map[string]any    `json:"best_genome"`
	BestFitness float64           `json:"best_fitness"`
	Generations int               `json:"generations"`
	History     []GenerationStats `json:"history"`
	Stopped     string            `json:"stopped"` // "generations", "converged", "canceled"
}

// Optimizer runs the genetic parameter search.
type Optimizer struct {
	spec      *Spec
	evaluator Evaluator
	fitness   *FitnessCalculator
	cfg       OptimizerConfig
	crossover Crossover
	mutation  Mutation

	// OnGeneration, when set, observes each generation as it
	// completes. Called from the optimizer goroutine.
	OnGeneration func(GenerationStats)
}

// NewOptimizer wires an optimizer. Crossover defaults to Blend and
// mutation to Gaussian when nil.
func NewOptimizer(spec *Spec, evaluator Evaluator, fitness *FitnessCalculator, cfg OptimizerConfig) (*Optimizer, error) {
	if spec == nil || len(spec.Genes) == 0 {
		return nil, fmt.Errorf("empty gene spec")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("no evaluator")
	}
	if fitness == nil {
		return nil, fmt.Errorf("no fitness calculator")
	}
	if cfg.PopulationSize < 2 {
		return nil, fmt.Errorf("population size %d below 2", cfg.PopulationSize)
	}
	if cfg.EliteCount >= cfg.PopulationSize {
		return nil, fmt.Errorf("elite count %d must be below population size %d",
			cfg.EliteCount, cfg.PopulationSize)
	}
	if cfg.Generations < 1 {
		return nil, fmt.Errorf("generations %d below 1", cfg.Generations)
	}

	return &Optimizer{
		spec:      spec,
		evaluator: evaluator,
		fitness:   fitness,
		cfg:       cfg,
		crossover: Blend{},
		mutation:  Gaussian{},
	}, nil
}

// SetOperators overrides the crossover and mutation operators.
func (o *Optimizer) SetOperators(c Crossover, m Mutation) {
	if c != nil {
		o.crossover = c
	}
	if m != nil {
		o.mutation = m
	}
}

// Run executes the generation loop until the generation budget is
// spent, fitness converges, or ctx is cancelled. On cancellation the
// partial result is returned along with ctx's error.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	seed := o.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pop := make(Population, o.cfg.PopulationSize)
	for i := range pop {
		pop[i] = Individual{Genome: o.spec.Random(rng)}
	}

	result := &Result{}
	bestEver := Individual{Fitness: math.Inf(-1)}
	sinceImprovement := 0

	for gen := 0; gen < o.cfg.Generations; gen++ {
		start := time.Now()

		if err := o.evaluate(ctx, pop); err != nil {
			result.Stopped = "canceled"
			o.finalize(result, bestEver)
			return result, err
		}

		best := pop.Best()
		if best.Fitness > bestEver.Fitness+o.cfg.MinImprovement {
			bestEver = Individual{
				Genome:  best.Genome.Clone(),
				Fitness: best.Fitness,
				Metrics: best.Metrics,
			}
			sinceImprovement = 0
		} else {
			sinceImprovement++
		}

		rate := DecayRate(o.cfg.MutationRate, o.cfg.MutationFloor, o.cfg.MutationDecay, gen)
		stats := GenerationStats{
			Generation:   gen,
			BestFitness:  best.Fitness,
			MeanFitness:  pop.MeanFitness(),
			StdDev:       stddev(pop),
			MutationRate: rate,
			Evaluated:    len(pop),
			Elapsed:      time.Since(start).Seconds(),
			Best:         best.Genome.Clone(),
			At:           time.Now(),
		}
		result.History = append(result.History, stats)
		result.Generations = gen + 1

		monitor.GenerationEvaluated(bestEver.Fitness)
		if o.OnGeneration != nil {
			o.OnGeneration(stats)
		}

		slog.Debug("generation evaluated",
			"generation", gen,
			"best", best.Fitness,
			"mean", stats.MeanFitness,
			"mutation_rate", rate,
		)

		if o.cfg.Patience > 0 && sinceImprovement >= o.cfg.Patience {
			result.Stopped = "converged"
			o.finalize(result, bestEver)
			return result, nil
		}

		if gen == o.cfg.Generations-1 {
			break
		}

		select {
		case <-ctx.Done():
			result.Stopped = "canceled"
			o.finalize(result, bestEver)
			return result, ctx.Err()
		default:
		}

		pop = o.breed(pop, rate, rng)
	}

	result.Stopped = "generations"
	o.finalize(result, bestEver)
	return result, nil
}

// evaluate scores every individual, fanning out up to Parallelism
// concurrent evaluator calls.
func (o *Optimizer) evaluate(ctx context.Context, pop Population) error {
	parallelism := o.cfg.Parallelism
	if parallelism < 1 {
		parallelism = len(pop)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range pop {
		g.Go(func() error {
			metrics, err := o.evaluator.Evaluate(gctx, pop[i].Genome)
			if err != nil {
				return fmt.Errorf("evaluate genome %s: %w", pop[i].Genome, err)
			}
			score := o.fitness.Score(metrics)

			mu.Lock()
			pop[i].Metrics = metrics
			pop[i].Fitness = score
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// breed produces the next generation: elites verbatim, the rest from
// tournament-selected parents via crossover and mutation.
func (o *Optimizer) breed(pop Population, mutationRate float64, rng *rand.Rand) Population {
	next := make(Population, 0, len(pop))

	for _, elite := range Elites(pop, o.cfg.EliteCount) {
		next = append(next, elite)
	}

	for len(next) < len(pop) {
		a := Tournament(pop, o.cfg.TournamentK, rng)

		var child Genome
		if rng.Float64() < o.cfg.CrossoverRate {
			b := Tournament(pop, o.cfg.TournamentK, rng)
			child = o.crossover.Cross(o.spec, a.Genome, b.Genome, rng)
		} else {
			child = a.Genome.Clone()
		}

		child = o.mutation.Mutate(o.spec, child, mutationRate, rng)
		next = append(next, Individual{Genome: o.spec.Clamp(child)})
	}

	return next
}

// finalize copies the best individual into the result.
func (o *Optimizer) finalize(result *Result, best Individual) {
	result.Best = best
	result.BestFitness = best.Fitness
	if best.Genome.Values != nil {
		result.BestGenome = best.Genome.Clone().Values
	}
}

// stddev computes the population fitness standard deviation.
func stddev(p Population) float64 {
	if len(p) < 2 {
		return 0
	}
	mean := p.MeanFitness()
	sum := 0.0
	for _, ind := range p {
		d := ind.Fitness - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(p)-1))
}
