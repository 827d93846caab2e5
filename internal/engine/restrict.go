package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/metrics"
)

// restrictionIndex maps the tree partition induced by the top-level
// variables to clique sets.
type restrictionIndex struct {
	// anchors holds the top-level variables sorted by ID, followed by the
	// root when the root is not itself top-level.
	anchors []int
	numTop  int
	root    int // anchor index of the root

	leafTop     []int   // leaf variable ID -> anchor index, -1 otherwise
	descendants [][]int // anchor index (top-level only) -> cliques
	paths       [][]int // pairIndex(i, j) -> cliques on the path between anchors
}

func newRestrictionIndex(m *ir.Model, top *cliquetree.Topology, topLevel []int) (*restrictionIndex, error) {
	ids := slices.Clone(topLevel)
	slices.Sort(ids)
	isTop := make([]bool, m.Len())
	for i, id := range ids {
		if id < 0 || id >= m.Len() {
			return nil, fmt.Errorf("top-level variable %d out of range", id)
		}
		if i > 0 && ids[i-1] == id {
			return nil, fmt.Errorf("top-level variable %s repeated", m.Variable(id).Name)
		}
		if m.IsLeaf(id) {
			return nil, fmt.Errorf("top-level variable %s is a leaf", m.Variable(id).Name)
		}
		isTop[id] = true
	}

	idx := &restrictionIndex{
		anchors:     ids,
		numTop:      len(ids),
		leafTop:     make([]int, m.Len()),
		descendants: make([][]int, len(ids)),
	}
	for i := range idx.leafTop {
		idx.leafTop[i] = -1
	}

	// Each top-level variable owns its descendants down to, but excluding,
	// the next top-level variables below it.
	for a, t := range ids {
		cliques := top.NodeCliques(nil, t)
		stack := slices.Clone(m.Node(t).Children)
		for len(stack) > 0 {
			d := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if isTop[d] {
				continue
			}
			cliques = top.NodeCliques(cliques, d)
			if m.IsLeaf(d) {
				idx.leafTop[d] = a
			}
			stack = append(stack, m.Node(d).Children...)
		}
		slices.Sort(cliques)
		idx.descendants[a] = cliques
	}
	for _, leaf := range m.Leaves() {
		if idx.leafTop[leaf] < 0 {
			return nil, fmt.Errorf("leaf %s has no top-level ancestor", m.Variable(leaf).Name)
		}
	}

	idx.root = slices.Index(ids, m.Root())
	if idx.root < 0 {
		idx.anchors = append(idx.anchors, m.Root())
		idx.root = len(idx.anchors) - 1
	}

	n := len(idx.anchors)
	idx.paths = make([][]int, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var cliques []int
			for _, v := range m.Path(idx.anchors[i], idx.anchors[j]) {
				cliques = top.NodeCliques(cliques, v)
			}
			idx.paths[idx.pairIndex(i, j)] = cliques
		}
	}
	return idx, nil
}

// pairIndex returns the slot of the unordered anchor pair {i, j}, i != j.
func (idx *restrictionIndex) pairIndex(i, j int) int {
	if i > j {
		i, j = j, i
	}
	n := len(idx.anchors)
	return i*(2*n-i-1)/2 + (j - i - 1)
}

// FindAndSetPropagationRange focuses the engine on the cliques affected by
// the positive evidence: the territories of the top-level variables above
// the positive leaves, the paths between every pair of them, and the path
// from the first one to the root. It returns the focused cliques sorted by
// ID. With no positive evidence it returns nil and leaves the scope on the
// full tree.
//
// The range must be undone with ResetMessages before the next call.
func (e *Engine) FindAndSetPropagationRange() ([]int, error) {
	idx := e.session.restriction
	if idx == nil {
		return nil, NewPreconditionError("", "session has no top-level variables")
	}
	if e.focus != nil {
		return nil, NewPreconditionError("", "previous propagation range was not reset")
	}
	if len(e.positives) == 0 {
		return nil, nil
	}

	var touched []int
	for _, id := range e.positives {
		a := idx.leafTop[id]
		if a < 0 {
			return nil, NewPreconditionError(e.model.Variable(id).Name, "positive evidence on a variable outside every top-level territory")
		}
		touched = append(touched, a)
	}
	slices.Sort(touched)
	touched = slices.Compact(touched)

	var cliques []int
	add := func(cs []int) {
		for _, c := range cs {
			if !e.mark[c] {
				e.mark[c] = true
				cliques = append(cliques, c)
			}
		}
	}
	for _, a := range touched {
		add(idx.descendants[a])
	}
	for i := range touched {
		for j := i + 1; j < len(touched); j++ {
			add(idx.paths[idx.pairIndex(touched[i], touched[j])])
		}
	}
	if !slices.Contains(touched, idx.root) {
		add(idx.paths[idx.pairIndex(touched[0], idx.root)])
	}
	for _, c := range cliques {
		e.mark[c] = false
	}
	slices.Sort(cliques)

	if err := e.SetFocusedSubtree(cliques); err != nil {
		return nil, err
	}
	metrics.FocusedCliques.Observe(float64(len(cliques)))
	return slices.Clone(cliques), nil
}

// SetFocusedSubtree confines the next propagations to the given connected
// clique set. Undo it with ResetMessages.
//
// Messages entering the range are read from the engine's current state, so
// an engine that ran a full-scope propagation since its last ResetAll is
// first restored from the default snapshot.
func (e *Engine) SetFocusedSubtree(cliques []int) error {
	if e.diverged {
		e.ResetAll()
	}
	if err := e.tree.SetFocusedSubtree(cliques); err != nil {
		return NewPreconditionError("", "%v", err)
	}
	e.focus = e.tree.FocusedSubtree()
	e.propagated = false
	return nil
}
