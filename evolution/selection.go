package evolution

import (
	"math/rand"
	"sort"
)

// Individual pairs a genome with its measured fitness.
type Individual struct {
	Genome  Genome
	Fitness float64

	// Metrics are the raw evaluator metrics behind the fitness
	Metrics map[string]float64
}

// Population is a fitness-ordered set of individuals.
type Population []Individual

// SortByFitness orders the population best first.
func (p Population) SortByFitness() {
	sort.SliceStable(p, func(i, j int) bool {
		return p[i].Fitness > p[j].Fitness
	})
}

// Best returns the fittest individual. Panics on an empty population.
func (p Population) Best() Individual {
	best := p[0]
	for _, ind := range p[1:] {
		if ind.Fitness > best.Fitness {
			best = ind
		}
	}
	return best
}

// MeanFitness returns the average fitness.
func (p Population) MeanFitness() float64 {
	if len(p) == 0 {
		return 0
	}
	sum := 0.0
	for _, ind := range p {
		sum += ind.Fitness
	}
	return sum / float64(len(p))
}

// Tournament selects a parent by sampling k individuals uniformly with
// replacement and keeping the fittest.
func Tournament(p Population, k int, rng *rand.Rand) Individual {
	if k < 1 {
		k = 1
	}
	best := p[rng.Intn(len(p))]
	for i := 1; i < k; i++ {
		challenger := p[rng.Intn(len(p))]
		if challenger.Fitness > best.Fitness {
			best = challenger
		}
	}
	return best
}

// Elites returns clones of the top n individuals, best first.
func Elites(p Population, n int) []Individual {
	sorted := make(Population, len(p))
	copy(sorted, p)
	sorted.SortByFitness()

	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]Individual, n)
	for i := 0; i < n; i++ {
		out[i] = Individual{
			Genome:  sorted[i].Genome.Clone(),
			Fitness: sorted[i].Fitness,
			Metrics: sorted[i].Metrics,
		}
	}
	return out
}
