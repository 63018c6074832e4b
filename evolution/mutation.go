package evolution

import "math/rand"

// Mutation perturbs a genome in place on a clone. Implementations must
// stay inside the spec's bounds.
type Mutation interface {
	Mutate(spec *Spec, g Genome, rate float64, rng *rand.Rand) Genome
}

// Gaussian perturbs each numeric gene with probability rate by a
// normally distributed step scaled to the gene's range. Choice genes
// re-roll uniformly.
type Gaussian struct {
	// Sigma is the step standard deviation as a fraction of the
	// gene range; 0 defaults to 0.1
	Sigma float64
}

func (m Gaussian) Mutate(spec *Spec, g Genome, rate float64, rng *rand.Rand) Genome {
	sigma := m.Sigma
	if sigma == 0 {
		sigma = 0.1
	}

	out := g.Clone()
	for _, gene := range spec.Genes {
		if rng.Float64() >= rate {
			continue
		}
		switch gene.Kind {
		case GeneFloat:
			span := gene.Max - gene.Min
			out.Values[gene.Name] = out.Float(gene.Name) + rng.NormFloat64()*sigma*span
		case GeneInt:
			span := gene.Max - gene.Min
			step := rng.NormFloat64() * sigma * span
			// Integer genes always move at least one step.
			if step > -1 && step < 1 {
				if rng.Float64() < 0.5 {
					step = -1
				} else {
					step = 1
				}
			}
			out.Values[gene.Name] = out.Int(gene.Name) + int(step)
		case GeneChoice:
			out.Values[gene.Name] = gene.Choices[rng.Intn(len(gene.Choices))]
		}
	}
	return spec.Clamp(out)
}

// Reset replaces each gene with probability rate by a fresh uniform
// sample from its domain.
type Reset struct{}

func (Reset) Mutate(spec *Spec, g Genome, rate float64, rng *rand.Rand) Genome {
	out := g.Clone()
	fresh := spec.Random(rng)
	for _, gene := range spec.Genes {
		if rng.Float64() < rate {
			out.Values[gene.Name] = fresh.Values[gene.Name]
		}
	}
	return out
}

// DecayRate anneals a mutation rate across generations: the rate
// shrinks geometrically from initial toward floor.
func DecayRate(initial, floor, decay float64, generation int) float64 {
	rate := initial
	for i := 0; i < generation; i++ {
		rate *= decay
	}
	if rate < floor {
		return floor
	}
	return rate
}
