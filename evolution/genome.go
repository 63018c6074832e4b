// Package evolution implements the genetic parameter optimizer and the
// self-evolution cycle. A Spec declares the tunable genes; the
// Optimizer breeds populations of Genomes against a fitness function
// built from measured evaluator metrics.
package evolution

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// GeneKind is the type of a gene.
type GeneKind int

const (
	// GeneFloat is a continuous value in [Min, Max]
	GeneFloat GeneKind = iota

	// GeneInt is an integer value in [Min, Max]
	GeneInt

	// GeneChoice is one of the Choices values
	GeneChoice
)

// Gene declares one tunable parameter.
type Gene struct {
	// Name identifies the gene ("temperature", "plan_depth")
	Name string

	// Kind selects the value domain
	Kind GeneKind

	// Min and Max bound float and int genes, inclusive
	Min, Max float64

	// Choices enumerate the values of a choice gene
	Choices []string
}

// Spec declares the gene set of a genome. Order is significant: it is
// the crossover point order.
type Spec struct {
	Genes []Gene
	index map[string]int
}

// NewSpec builds a Spec and validates the gene declarations.
func NewSpec(genes ...Gene) (*Spec, error) {
	s := &Spec{Genes: genes, index: make(map[string]int, len(genes))}
	for i, g := range genes {
		if g.Name == "" {
			return nil, fmt.Errorf("gene %d has no name", i)
		}
		if _, dup := s.index[g.Name]; dup {
			return nil, fmt.Errorf("duplicate gene %q", g.Name)
		}
		switch g.Kind {
		case GeneFloat, GeneInt:
			if g.Max < g.Min {
				return nil, fmt.Errorf("gene %q: max %v below min %v", g.Name, g.Max, g.Min)
			}
		case GeneChoice:
			if len(g.Choices) == 0 {
				return nil, fmt.Errorf("gene %q: no choices", g.Name)
			}
		default:
			return nil, fmt.Errorf("gene %q: unknown kind %d", g.Name, g.Kind)
		}
		s.index[g.Name] = i
	}
	return s, nil
}

// Gene returns the declaration for name.
func (s *Spec) Gene(name string) (Gene, bool) {
	i, ok := s.index[name]
	if !ok {
		return Gene{}, false
	}
	return s.Genes[i], true
}

// Genome is one candidate parameter set. Values are keyed by gene name:
// float64 for float genes, int for int genes, string for choice genes.
type Genome struct {
	Values map[string]any
}

// Random samples a genome uniformly from the spec's domains.
func (s *Spec) Random(rng *rand.Rand) Genome {
	g := Genome{Values: make(map[string]any, len(s.Genes))}
	for _, gene := range s.Genes {
		switch gene.Kind {
		case GeneFloat:
			g.Values[gene.Name] = gene.Min + rng.Float64()*(gene.Max-gene.Min)
		case GeneInt:
			span := int(gene.Max-gene.Min) + 1
			g.Values[gene.Name] = int(gene.Min) + rng.Intn(span)
		case GeneChoice:
			g.Values[gene.Name] = gene.Choices[rng.Intn(len(gene.Choices))]
		}
	}
	return g
}

// Clone returns a deep copy.
func (g Genome) Clone() Genome {
	out := Genome{Values: make(map[string]any, len(g.Values))}
	for k, v := range g.Values {
		out.Values[k] = v
	}
	return out
}

// Float returns the float value of a gene, converting int genes.
func (g Genome) Float(name string) float64 {
	switch v := g.Values[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the int value of a gene, truncating float genes.
func (g Genome) Int(name string) int {
	switch v := g.Values[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Choice returns the string value of a choice gene.
func (g Genome) Choice(name string) string {
	s, _ := g.Values[name].(string)
	return s
}

// Clamp forces every numeric gene back inside its declared bounds and
// every choice gene onto a declared choice.
func (s *Spec) Clamp(g Genome) Genome {
	out := g.Clone()
	for _, gene := range s.Genes {
		switch gene.Kind {
		case GeneFloat:
			v := out.Float(gene.Name)
			out.Values[gene.Name] = math.Min(gene.Max, math.Max(gene.Min, v))
		case GeneInt:
			v := out.Int(gene.Name)
			if v < int(gene.Min) {
				v = int(gene.Min)
			}
			if v > int(gene.Max) {
				v = int(gene.Max)
			}
			out.Values[gene.Name] = v
		case GeneChoice:
			cur := out.Choice(gene.Name)
			valid := false
			for _, c := range gene.Choices {
				if c == cur {
					valid = true
					break
				}
			}
			if !valid {
				out.Values[gene.Name] = gene.Choices[0]
			}
		}
	}
	return out
}

// InBounds reports whether every gene value is inside its domain.
func (s *Spec) InBounds(g Genome) bool {
	for _, gene := range s.Genes {
		switch gene.Kind {
		case GeneFloat:
			v, ok := g.Values[gene.Name].(float64)
			if !ok || v < gene.Min || v > gene.Max {
				return false
			}
		case GeneInt:
			v, ok := g.Values[gene.Name].(int)
			if !ok || v < int(gene.Min) || v > int(gene.Max) {
				return false
			}
		case GeneChoice:
			cur, ok := g.Values[gene.Name].(string)
			if !ok {
				return false
			}
			valid := false
			for _, c := range gene.Choices {
				if c == cur {
					valid = true
					break
				}
			}
			if !valid {
				return false
			}
		}
	}
	return true
}

// Distance is the Euclidean distance between two genomes in the
// normalized [0,1] gene space. Differing choice genes contribute 1.
func (s *Spec) Distance(a, b Genome) float64 {
	sum := 0.0
	for _, gene := range s.Genes {
		switch gene.Kind {
		case GeneFloat, GeneInt:
			span := gene.Max - gene.Min
			if span == 0 {
				continue
			}
			d := (a.Float(gene.Name) - b.Float(gene.Name)) / span
			sum += d * d
		case GeneChoice:
			if a.Choice(gene.Name) != b.Choice(gene.Name) {
				sum += 1
			}
		}
	}
	return math.Sqrt(sum)
}

// Names returns the gene names in declaration order.
func (s *Spec) Names() []string {
	names := make([]string, 0, len(s.Genes))
	for _, g := range s.Genes {
		names = append(names, g.Name)
	}
	return names
}

// sortedNames returns gene names sorted, for deterministic encoding.
func (g Genome) sortedNames() []string {
	names := make([]string, 0, len(g.Values))
	for k := range g.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String renders the genome compactly for logs.
func (g Genome) String() string {
	out := "{"
	for i, name := range g.sortedNames() {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", name, g.Values[name])
	}
	return out + "}"
}
