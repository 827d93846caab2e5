// Package testutil provides models, a brute-force reference and
// deterministic generators shared by tests.
package testutil

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// StarSpec is a root Z with prior [0.5, 0.5] and three binary leaves.
func StarSpec() ir.ModelSpec {
	return ir.ModelSpec{
		Name: "star",
		Variables: []ir.VariableSpec{
			{Name: "Z", States: 2, CPT: [][]float64{{0.5, 0.5}}},
			{Name: "X1", States: 2, Parent: "Z", CPT: [][]float64{{0.8, 0.2}, {0.2, 0.8}}},
			{Name: "X2", States: 2, Parent: "Z", CPT: [][]float64{{0.6, 0.4}, {0.1, 0.9}}},
			{Name: "X3", States: 2, Parent: "Z", CPT: [][]float64{{0.9, 0.1}, {0.3, 0.7}}},
		},
	}
}

// DeepSpec has three levels of latents with mixed cardinalities:
//
//	R -> {A, B}
//	A -> {X1, X2}, B -> {X3, C}
//	C -> {X4, X5}
func DeepSpec() ir.ModelSpec {
	return ir.ModelSpec{
		Name: "deep",
		Variables: []ir.VariableSpec{
			{Name: "R", States: 2, CPT: [][]float64{{0.35, 0.65}}},
			{Name: "A", States: 3, Parent: "R", CPT: [][]float64{{0.5, 0.3, 0.2}, {0.1, 0.3, 0.6}}},
			{Name: "B", States: 2, Parent: "R", CPT: [][]float64{{0.7, 0.3}, {0.25, 0.75}}},
			{Name: "X1", States: 2, Parent: "A", CPT: [][]float64{{0.9, 0.1}, {0.5, 0.5}, {0.2, 0.8}}},
			{Name: "X2", States: 2, Parent: "A", CPT: [][]float64{{0.85, 0.15}, {0.4, 0.6}, {0.3, 0.7}}},
			{Name: "X3", States: 2, Parent: "B", CPT: [][]float64{{0.95, 0.05}, {0.45, 0.55}}},
			{Name: "C", States: 2, Parent: "B", CPT: [][]float64{{0.6, 0.4}, {0.2, 0.8}}},
			{Name: "X4", States: 2, Parent: "C", CPT: [][]float64{{0.75, 0.25}, {0.15, 0.85}}},
			{Name: "X5", States: 3, Parent: "C", CPT: [][]float64{{0.6, 0.3, 0.1}, {0.1, 0.2, 0.7}}},
		},
	}
}

// ForestOptions shapes RandomForestSpec.
type ForestOptions struct {
	TopLevel       int // latents directly under the root
	HiddenPerTop   int // latents under each top-level latent
	LeavesPerGroup int // leaves under each hidden latent and each top-level latent
	MinProb        float64
}

// DefaultForestOptions sizes a tree for randomized restricted-propagation
// checks. It is too large to enumerate.
func DefaultForestOptions() ForestOptions {
	return ForestOptions{TopLevel: 4, HiddenPerTop: 2, LeavesPerGroup: 3, MinProb: 0.02}
}

// RandomForestSpec generates a binary latent tree: a root, TopLevel latents
// under it, HiddenPerTop latents under each of those, and LeavesPerGroup
// leaves under every non-root latent. CPT rows are random with every entry
// at least MinProb.
func RandomForestSpec(rng *rand.Rand, opts ForestOptions) ir.ModelSpec {
	spec := ir.ModelSpec{Name: "forest"}
	add := func(name, parent string, rows int) {
		cpt := make([][]float64, rows)
		for r := range cpt {
			p := opts.MinProb + rng.Float64()*(1-2*opts.MinProb)
			cpt[r] = []float64{1 - p, p}
		}
		spec.Variables = append(spec.Variables, ir.VariableSpec{Name: name, States: 2, Parent: parent, CPT: cpt})
	}
	leaves := func(parent string) {
		for l := 0; l < opts.LeavesPerGroup; l++ {
			add(fmt.Sprintf("%s_x%d", parent, l), parent, 2)
		}
	}

	add("root", "", 1)
	for t := 0; t < opts.TopLevel; t++ {
		top := fmt.Sprintf("t%d", t)
		add(top, "root", 2)
		leaves(top)
		for h := 0; h < opts.HiddenPerTop; h++ {
			hidden := fmt.Sprintf("%s_h%d", top, h)
			add(hidden, top, 2)
			leaves(hidden)
		}
	}
	return spec
}

// MustModel builds spec and panics on error.
func MustModel(spec ir.ModelSpec) *ir.Model {
	return ir.MustBuild(spec)
}

// Var returns the named variable of m and panics if it does not exist.
func Var(m *ir.Model, name string) potential.Variable {
	id, ok := m.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("testutil: model %q has no variable %q", m.Name(), name))
	}
	return m.Variable(id)
}

// Vars returns the variables of m with the given IDs.
func Vars(m *ir.Model, ids []int) []potential.Variable {
	out := make([]potential.Variable, len(ids))
	for i, id := range ids {
		out[i] = m.Variable(id)
	}
	return out
}

// TopLevelIDs returns the IDs of the children of the root.
func TopLevelIDs(m *ir.Model) []int {
	return m.Node(m.Root()).Children
}
