package cliquetree

import (
	"fmt"
	"slices"
)

// Tree is a per-engine view of a Topology with an optional focused subtree.
// A Tree is not safe for concurrent use; the Topology it wraps is.
type Tree struct {
	top   *Topology
	focus []bool // nil means the full tree
	set   []int
	pivot int
}

// New returns a view of top with no focused subtree.
func New(top *Topology) *Tree {
	return &Tree{top: top, pivot: top.pivot}
}

// Topology returns the shared topology.
func (t *Tree) Topology() *Topology { return t.top }

// SetFocusedSubtree confines propagation to the given cliques. They must
// form a connected subtree. The working pivot becomes the topology pivot if
// it is in the set, otherwise the set's clique closest to it.
func (t *Tree) SetFocusedSubtree(cliques []int) error {
	if len(cliques) == 0 {
		return fmt.Errorf("focused subtree: empty clique set")
	}
	focus := make([]bool, len(t.top.cliques))
	for _, c := range cliques {
		if c < 0 || c >= len(focus) {
			return fmt.Errorf("focused subtree: clique %d out of range", c)
		}
		focus[c] = true
	}

	// A subtree has exactly one member whose edge toward the pivot leaves
	// the set.
	pivot, tops := -1, 0
	for c, in := range focus {
		if !in {
			continue
		}
		if e := t.top.parent[c]; e < 0 || !focus[t.top.edges[e].To] {
			tops++
			pivot = c
		}
	}
	if tops != 1 {
		return fmt.Errorf("focused subtree: %d cliques are not connected", len(cliques))
	}

	t.focus = focus
	t.set = slices.Clone(cliques)
	slices.Sort(t.set)
	t.pivot = pivot
	return nil
}

// ResetFocusedSubtree restores the full tree as the propagation scope.
func (t *Tree) ResetFocusedSubtree() {
	t.focus = nil
	t.set = nil
	t.pivot = t.top.pivot
}

// InFocusedSubtree reports whether clique c is in the propagation scope.
// Every clique is in scope when no subtree is focused.
func (t *Tree) InFocusedSubtree(c int) bool {
	return t.focus == nil || t.focus[c]
}

// Focused reports whether a focused subtree is set.
func (t *Tree) Focused() bool { return t.focus != nil }

// FocusedSubtree returns the focused cliques sorted by ID, or nil.
func (t *Tree) FocusedSubtree() []int { return slices.Clone(t.set) }

// Pivot returns the working pivot of the current scope.
func (t *Tree) Pivot() int { return t.pivot }

// Clone returns an independent view sharing the same topology.
func (t *Tree) Clone() *Tree {
	return &Tree{
		top:   t.top,
		focus: slices.Clone(t.focus),
		set:   slices.Clone(t.set),
		pivot: t.pivot,
	}
}
