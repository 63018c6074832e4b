package evolution

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T) *Spec {
	t.Helper()
	spec, err := NewSpec(
		Gene{Name: "temperature", Kind: GeneFloat, Min: 0.0, Max: 1.5},
		Gene{Name: "max_tokens", Kind: GeneInt, Min: 512, Max: 8192},
		Gene{Name: "strategy", Kind: GeneChoice, Choices: []string{"depth", "breadth"}},
	)
	require.NoError(t, err)
	return spec
}

func TestNewSpecValidation(t *testing.T) {
	tests := []struct {
		name  string
		genes []Gene
	}{
		{"unnamed gene", []Gene{{Kind: GeneFloat, Min: 0, Max: 1}}},
		{"duplicate name", []Gene{
			{Name: "x", Kind: GeneFloat, Min: 0, Max: 1},
			{Name: "x", Kind: GeneFloat, Min: 0, Max: 1},
		}},
		{"inverted bounds", []Gene{{Name: "x", Kind: GeneFloat, Min: 2, Max: 1}}},
		{"choice without choices", []Gene{{Name: "x", Kind: GeneChoice}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpec(tt.genes...)
			assert.Error(t, err)
		})
	}
}

func TestRandomGenomesInBounds(t *testing.T) {
	spec := testSpec(t)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		g := spec.Random(rng)
		assert.True(t, spec.InBounds(g), "random genome out of bounds: %s", g)
	}
}

func TestClamp(t *testing.T) {
	spec := testSpec(t)

	g := Genome{Values: map[string]any{
		"temperature": 9.0,
		"max_tokens":  -5,
		"strategy":    "nonsense",
	}}

	clamped := spec.Clamp(g)
	assert.Equal(t, 1.5, clamped.Float("temperature"))
	assert.Equal(t, 512, clamped.Int("max_tokens"))
	assert.Equal(t, "depth", clamped.Choice("strategy"))
	assert.True(t, spec.InBounds(clamped))

	// Clamp works on a clone; the input is untouched.
	assert.Equal(t, 9.0, g.Float("temperature"))
}

func TestGenomeAccessors(t *testing.T) {
	g := Genome{Values: map[string]any{
		"f": 0.5,
		"i": 7,
		"c": "breadth",
	}}

	assert.Equal(t, 0.5, g.Float("f"))
	assert.Equal(t, 7.0, g.Float("i"), "int genes convert to float")
	assert.Equal(t, 7, g.Int("i"))
	assert.Equal(t, 0, g.Int("f"), "0.5 truncates to 0")
	assert.Equal(t, "breadth", g.Choice("c"))
	assert.Equal(t, 0.0, g.Float("missing"))
	assert.Equal(t, "", g.Choice("missing"))
}

func TestGenomeClone(t *testing.T) {
	g := Genome{Values: map[string]any{"x": 1}}
	c := g.Clone()
	c.Values["x"] = 2
	assert.Equal(t, 1, g.Int("x"))
}

func TestDistance(t *testing.T) {
	spec := testSpec(t)

	a := Genome{Values: map[string]any{"temperature": 0.0, "max_tokens": 512, "strategy": "depth"}}
	assert.Equal(t, 0.0, spec.Distance(a, a))

	// Full-range numeric difference plus a differing choice gene:
	// sqrt(1 + 1 + 1).
	b := Genome{Values: map[string]any{"temperature": 1.5, "max_tokens": 8192, "strategy": "breadth"}}
	assert.InDelta(t, 1.7320508, spec.Distance(a, b), 1e-6)

	// Symmetric.
	assert.Equal(t, spec.Distance(a, b), spec.Distance(b, a))
}

func TestSpecNamesAndLookup(t *testing.T) {
	spec := testSpec(t)
	assert.Equal(t, []string{"temperature", "max_tokens", "strategy"}, spec.Names())

	g, ok := spec.Gene("max_tokens")
	require.True(t, ok)
	assert.Equal(t, GeneInt, g.Kind)

	_, ok = spec.Gene("missing")
	assert.False(t, ok)
}
