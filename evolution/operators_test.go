package evolution

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parents(t *testing.T, spec *Spec) (Genome, Genome, *rand.Rand) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	return spec.Random(rng), spec.Random(rng), rng
}

func TestSinglePointCross(t *testing.T) {
	spec := testSpec(t)
	a, b, rng := parents(t, spec)

	for i := 0; i < 100; i++ {
		child := SinglePoint{}.Cross(spec, a, b, rng)
		require.True(t, spec.InBounds(child))

		// Every gene comes verbatim from one parent.
		for _, gene := range spec.Genes {
			v := child.Values[gene.Name]
			assert.True(t, v == a.Values[gene.Name] || v == b.Values[gene.Name],
				"gene %s value %v from neither parent", gene.Name, v)
		}
	}
}

func TestUniformCross(t *testing.T) {
	spec := testSpec(t)
	a, b, rng := parents(t, spec)

	fromA, fromB := 0, 0
	for i := 0; i < 200; i++ {
		child := Uniform{}.Cross(spec, a, b, rng)
		require.True(t, spec.InBounds(child))
		if child.Float("temperature") == a.Float("temperature") {
			fromA++
		} else {
			fromB++
		}
	}

	// Both parents should contribute; an operator stuck on one side
	// would show up here.
	assert.Greater(t, fromA, 0)
	assert.Greater(t, fromB, 0)
}

func TestBlendCrossStaysInBounds(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(11))

	// Parents pinned to the extremes so BLX sampling would overshoot
	// without clamping.
	a := Genome{Values: map[string]any{"temperature": 0.0, "max_tokens": 512, "strategy": "depth"}}
	b := Genome{Values: map[string]any{"temperature": 1.5, "max_tokens": 8192, "strategy": "breadth"}}

	for i := 0; i < 500; i++ {
		child := Blend{Alpha: 0.5}.Cross(spec, a, b, rng)
		assert.True(t, spec.InBounds(child), "blend child out of bounds: %s", child)
	}
}

func TestGaussianMutationBounds(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(3))
	g := spec.Random(rng)

	for i := 0; i < 500; i++ {
		mutated := Gaussian{}.Mutate(spec, g, 1.0, rng)
		assert.True(t, spec.InBounds(mutated), "mutant out of bounds: %s", mutated)
	}
}

func TestGaussianMutationRateZeroIsIdentity(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(5))
	g := spec.Random(rng)

	mutated := Gaussian{}.Mutate(spec, g, 0.0, rng)
	assert.Equal(t, g.Values, mutated.Values)
}

func TestGaussianMutationPerturbsIntGenes(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(9))
	g := Genome{Values: map[string]any{"temperature": 0.7, "max_tokens": 4096, "strategy": "depth"}}

	// At rate 1 with a tiny sigma the integer gene still moves by at
	// least one.
	moved := 0
	for i := 0; i < 50; i++ {
		mutated := Gaussian{Sigma: 1e-9}.Mutate(spec, g, 1.0, rng)
		if mutated.Int("max_tokens") != 4096 {
			moved++
		}
	}
	assert.Equal(t, 50, moved, "integer gene should always step under mutation")
}

func TestResetMutationBounds(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(13))
	g := spec.Random(rng)

	for i := 0; i < 200; i++ {
		mutated := Reset{}.Mutate(spec, g, 0.5, rng)
		assert.True(t, spec.InBounds(mutated))
	}
}

func TestDecayRate(t *testing.T) {
	assert.Equal(t, 0.25, DecayRate(0.25, 0.05, 0.97, 0))
	assert.InDelta(t, 0.25*0.97, DecayRate(0.25, 0.05, 0.97, 1), 1e-12)
	assert.InDelta(t, 0.25*0.97*0.97, DecayRate(0.25, 0.05, 0.97, 2), 1e-12)

	// Deep generations bottom out at the floor.
	assert.Equal(t, 0.05, DecayRate(0.25, 0.05, 0.97, 1000))
}

func TestTournamentPrefersFitter(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	pop := Population{
		{Genome: Genome{Values: map[string]any{"id": 0}}, Fitness: 0.1},
		{Genome: Genome{Values: map[string]any{"id": 1}}, Fitness: 0.9},
		{Genome: Genome{Values: map[string]any{"id": 2}}, Fitness: 0.5},
	}

	wins := 0
	const trials = 500
	for i := 0; i < trials; i++ {
		if Tournament(pop, 3, rng).Fitness == 0.9 {
			wins++
		}
	}
	// With k=3 over 3 individuals the best wins unless never sampled:
	// 1-(2/3)^3 ≈ 0.70.
	assert.Greater(t, wins, trials/2)
}

func TestElites(t *testing.T) {
	pop := Population{
		{Genome: Genome{Values: map[string]any{"x": 1}}, Fitness: 0.2},
		{Genome: Genome{Values: map[string]any{"x": 2}}, Fitness: 0.8},
		{Genome: Genome{Values: map[string]any{"x": 3}}, Fitness: 0.5},
	}

	elites := Elites(pop, 2)
	require.Len(t, elites, 2)
	assert.Equal(t, 0.8, elites[0].Fitness)
	assert.Equal(t, 0.5, elites[1].Fitness)

	// Elites are clones: mutating one leaves the population intact.
	elites[0].Genome.Values["x"] = 99
	assert.Equal(t, 2, pop[1].Genome.Int("x"))

	// Population order is preserved.
	assert.Equal(t, 0.2, pop[0].Fitness)

	assert.Len(t, Elites(pop, 10), 3, "n above population size is capped")
}

func TestPopulationStats(t *testing.T) {
	pop := Population{
		{Fitness: 1.0},
		{Fitness: 2.0},
		{Fitness: 3.0},
	}
	assert.Equal(t, 3.0, pop.Best().Fitness)
	assert.Equal(t, 2.0, pop.MeanFitness())
	assert.Equal(t, 0.0, Population{}.MeanFitness())
}
