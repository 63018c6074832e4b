package evolution

import "math/rand"

// Crossover combines two parents into a child genome. Implementations
// must stay inside the spec's bounds.
type Crossover interface {
	Cross(spec *Spec, a, b Genome, rng *rand.Rand) Genome
}

// SinglePoint swaps all genes after a random point in declaration
// order: the child takes genes [0,point) from a and [point,n) from b.
type SinglePoint struct{}

func (SinglePoint) Cross(spec *Spec, a, b Genome, rng *rand.Rand) Genome {
	n := len(spec.Genes)
	child := a.Clone()
	if n < 2 {
		return child
	}
	point := 1 + rng.Intn(n-1)
	for _, gene := range spec.Genes[point:] {
		child.Values[gene.Name] = b.Values[gene.Name]
	}
	return child
}

// Uniform takes each gene from either parent with equal probability.
type Uniform struct{}

func (Uniform) Cross(spec *Spec, a, b Genome, rng *rand.Rand) Genome {
	child := Genome{Values: make(map[string]any, len(spec.Genes))}
	for _, gene := range spec.Genes {
		if rng.Float64() < 0.5 {
			child.Values[gene.Name] = a.Values[gene.Name]
		} else {
			child.Values[gene.Name] = b.Values[gene.Name]
		}
	}
	return child
}

// Blend implements BLX-α crossover: numeric genes are sampled uniformly
// from the parents' interval extended by Alpha on each side, then
// clamped to the gene bounds. Choice genes fall back to a coin flip.
type Blend struct {
	// Alpha extends the sampling interval; 0.5 is the common choice
	Alpha float64
}

func (c Blend) Cross(spec *Spec, a, b Genome, rng *rand.Rand) Genome {
	alpha := c.Alpha
	if alpha == 0 {
		alpha = 0.5
	}

	child := Genome{Values: make(map[string]any, len(spec.Genes))}
	for _, gene := range spec.Genes {
		switch gene.Kind {
		case GeneFloat, GeneInt:
			lo, hi := a.Float(gene.Name), b.Float(gene.Name)
			if lo > hi {
				lo, hi = hi, lo
			}
			span := hi - lo
			sample := lo - alpha*span + rng.Float64()*(span+2*alpha*span)
			if gene.Kind == GeneInt {
				child.Values[gene.Name] = int(sample + 0.5)
			} else {
				child.Values[gene.Name] = sample
			}
		case GeneChoice:
			if rng.Float64() < 0.5 {
				child.Values[gene.Name] = a.Values[gene.Name]
			} else {
				child.Values[gene.Name] = b.Values[gene.Name]
			}
		}
	}
	return spec.Clamp(child)
}
