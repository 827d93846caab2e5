package cliquetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFocusedSubtree(t *testing.T) {
	m := deepModel(t)
	top := Build(m)
	tree := New(top)

	assert.False(t, tree.Focused())
	assert.Equal(t, top.Pivot(), tree.Pivot())
	for c := 0; c < top.Len(); c++ {
		assert.True(t, tree.InFocusedSubtree(c))
	}

	// Subtree of A: F_A C_A F_X1 F_X2, not containing the pivot.
	var set []int
	set = top.NodeCliques(set, 1)
	set = top.NodeCliques(set, 3)
	set = top.NodeCliques(set, 4)
	require.NoError(t, tree.SetFocusedSubtree(set))

	fa, _ := top.FamilyClique(m.Variable(1))
	assert.True(t, tree.Focused())
	assert.Equal(t, fa, tree.Pivot(), "pivot moves to the clique closest to the tree pivot")
	assert.False(t, tree.InFocusedSubtree(top.Pivot()))
	assert.Len(t, tree.FocusedSubtree(), 4)

	tree.ResetFocusedSubtree()
	assert.False(t, tree.Focused())
	assert.Equal(t, top.Pivot(), tree.Pivot())
}

func TestFocusedSubtreeKeepsTreePivot(t *testing.T) {
	m := deepModel(t)
	top := Build(m)
	tree := New(top)

	var set []int
	for _, v := range m.Path(3, 0) {
		set = top.NodeCliques(set, v)
	}
	require.NoError(t, tree.SetFocusedSubtree(set))
	assert.Equal(t, top.Pivot(), tree.Pivot())
}

func TestFocusedSubtreeRejectsDisconnected(t *testing.T) {
	m := deepModel(t)
	top := Build(m)
	tree := New(top)

	x1, _ := top.FamilyClique(m.Variable(3))
	x4, _ := top.FamilyClique(m.Variable(7))
	assert.Error(t, tree.SetFocusedSubtree([]int{x1, x4}))
	assert.Error(t, tree.SetFocusedSubtree(nil))
	assert.Error(t, tree.SetFocusedSubtree([]int{top.Len()}))
	assert.False(t, tree.Focused())
}

func TestCloneIsIndependent(t *testing.T) {
	m := deepModel(t)
	top := Build(m)
	tree := New(top)

	x1, _ := top.FamilyClique(m.Variable(3))
	require.NoError(t, tree.SetFocusedSubtree([]int{x1}))

	clone := tree.Clone()
	tree.ResetFocusedSubtree()

	assert.True(t, clone.Focused())
	assert.Equal(t, x1, clone.Pivot())
	assert.Same(t, tree.Topology(), clone.Topology())
}
