package cliquetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

var binary = [][]float64{{0.7, 0.3}, {0.2, 0.8}}

// deepModel is R -> {A, B}, A -> {X1, X2}, B -> {X3, C}, C -> {X4}.
func deepModel(t *testing.T) *ir.Model {
	t.Helper()
	m, err := ir.Build(ir.ModelSpec{
		Name: "deep",
		Variables: []ir.VariableSpec{
			{Name: "R", States: 2, CPT: [][]float64{{0.4, 0.6}}},
			{Name: "A", States: 2, Parent: "R", CPT: binary},
			{Name: "B", States: 2, Parent: "R", CPT: binary},
			{Name: "X1", States: 2, Parent: "A", CPT: binary},
			{Name: "X2", States: 2, Parent: "A", CPT: binary},
			{Name: "X3", States: 2, Parent: "B", CPT: binary},
			{Name: "C", States: 2, Parent: "B", CPT: binary},
			{Name: "X4", States: 2, Parent: "C", CPT: binary},
		},
	})
	require.NoError(t, err)
	return m
}

func TestBuildCliqueCounts(t *testing.T) {
	m := deepModel(t)
	top := Build(m)

	// 8 family cliques + 4 variable cliques, 11 tree edges.
	assert.Equal(t, 12, top.Len())
	assert.Equal(t, 22, top.NumEdges())

	for v := 0; v < m.Len(); v++ {
		f, ok := top.FamilyClique(m.Variable(v))
		require.True(t, ok)
		fc := top.Clique(f)
		assert.Equal(t, Family, fc.Kind)
		assert.Equal(t, v, fc.Var)
		assert.Contains(t, fc.Vars, m.Variable(v))
		if p := m.Node(v).Parent; p >= 0 {
			assert.Contains(t, fc.Vars, m.Variable(p))
		}

		c, ok := top.VariableClique(m.Variable(v))
		assert.Equal(t, !m.IsLeaf(v), ok)
		if ok {
			assert.Equal(t, []potential.Variable{m.Variable(v)}, top.Clique(c).Vars)
		}
	}
}

func TestBuildEdgesAreTreeShaped(t *testing.T) {
	top := Build(deepModel(t))

	for e := 0; e < top.NumEdges(); e++ {
		ed, rev := top.Edge(e), top.Edge(Reverse(e))
		assert.Equal(t, ed.From, rev.To)
		assert.Equal(t, ed.To, rev.From)
		assert.Equal(t, ed.Separator, rev.Separator)
		assert.Contains(t, top.Clique(ed.From).Vars, ed.Separator)
		assert.Contains(t, top.Clique(ed.To).Vars, ed.Separator)
	}

	// Every clique reaches the pivot through parent edges.
	for c := 0; c < top.Len(); c++ {
		steps := 0
		for x := c; x != top.Pivot(); x = top.Edge(top.ParentEdge(x)).To {
			steps++
			require.Less(t, steps, top.Len())
		}
		assert.Equal(t, top.Depth(c), steps)
	}
}

func TestPivotIsRootVariableClique(t *testing.T) {
	m := deepModel(t)
	top := Build(m)

	c, ok := top.VariableClique(m.Variable(m.Root()))
	require.True(t, ok)
	assert.Equal(t, c, top.Pivot())
	assert.Equal(t, -1, top.ParentEdge(top.Pivot()))
}

func TestSingleNodeModelPivot(t *testing.T) {
	m, err := ir.Build(ir.ModelSpec{
		Name:      "single",
		Variables: []ir.VariableSpec{{Name: "Z", States: 3, CPT: [][]float64{{0.2, 0.3, 0.5}}}},
	})
	require.NoError(t, err)

	top := Build(m)
	assert.Equal(t, 1, top.Len())
	assert.Equal(t, 0, top.Pivot())
	_, ok := top.VariableClique(m.Variable(0))
	assert.False(t, ok)
}

func TestUnknownVariableLookup(t *testing.T) {
	top := Build(deepModel(t))

	_, ok := top.FamilyClique(potential.Variable{ID: 99, Name: "ghost", Card: 2})
	assert.False(t, ok)
	_, ok = top.FamilyClique(potential.Variable{ID: 0, Name: "other", Card: 2})
	assert.False(t, ok)
}

func TestPathAndEdgeBetween(t *testing.T) {
	m := deepModel(t)
	top := Build(m)

	x1, _ := top.FamilyClique(m.Variable(3))
	x4, _ := top.FamilyClique(m.Variable(7))
	path := top.Path(x1, x4)

	require.Equal(t, x1, path[0])
	require.Equal(t, x4, path[len(path)-1])
	for i := 1; i < len(path); i++ {
		_, ok := top.EdgeBetween(path[i-1], path[i])
		assert.True(t, ok, "path step %d is not an edge", i)
	}
	// F_X1 C_A F_A C_R F_B C_B F_C C_C F_X4
	assert.Len(t, path, 9)
}

func TestMinimalSubtree(t *testing.T) {
	m := deepModel(t)
	top := Build(m)

	single, err := top.MinimalSubtree([]potential.Variable{m.Variable(3)})
	require.NoError(t, err)
	f, _ := top.FamilyClique(m.Variable(3))
	assert.Equal(t, []int{f}, single)

	pair, err := top.MinimalSubtree([]potential.Variable{m.Variable(3), m.Variable(4)})
	require.NoError(t, err)
	assert.Len(t, pair, 3) // F_X1 C_A F_X2

	_, err = top.MinimalSubtree(nil)
	assert.Error(t, err)
}
