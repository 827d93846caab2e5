package engine

import (
	"math"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/potential"
)

// JointBelief returns the joint posterior of vars. Messages are recollected
// inside subtree, a connected clique set covering every variable, keeping
// the query variables instead of summing them out. A nil subtree means the
// minimal one covering the family cliques of vars.
func (e *Engine) JointBelief(vars []potential.Variable, subtree []int) (*potential.Potential, error) {
	if !e.propagated {
		return nil, NewNotPropagatedError("JointBelief")
	}
	if len(vars) == 0 {
		return nil, NewPreconditionError("", "joint belief of no variables")
	}
	seen := make(map[int]bool, len(vars))
	var free []potential.Variable
	for _, v := range vars {
		if !e.model.Has(v) {
			return nil, NewPreconditionError(v.Name, "variable not in model %q", e.model.Name())
		}
		if seen[v.ID] {
			return nil, NewPreconditionError(v.Name, "variable repeated in joint belief")
		}
		seen[v.ID] = true
		if e.evidence[v.ID] == potential.Missing {
			free = append(free, v)
		}
	}
	if len(free) == 0 {
		return e.withObserved(potential.Identity(), vars)
	}

	if subtree == nil {
		var err error
		if subtree, err = e.top.MinimalSubtree(free); err != nil {
			return nil, NewPreconditionError("", "%v", err)
		}
	}
	pivot, err := e.subtreePivot(subtree, free)
	if err != nil {
		return nil, err
	}
	defer clear(e.mark)

	order := e.traverse(pivot, func(edge int) bool { return e.mark[e.top.Edge(edge).To] })
	temp := make(map[int]*potential.Potential, len(order))
	product := func(c, skip int) (*potential.Potential, error) {
		m := e.localPotential(c)
		for _, out := range e.top.Clique(c).Out {
			if out == skip {
				continue
			}
			in := cliquetree.Reverse(out)
			msg, ok := temp[in]
			if !ok {
				msg = e.st.msgs[in]
			}
			if msg == nil {
				return nil, NewNotPropagatedError("JointBelief")
			}
			m = m.Times(msg)
		}
		return m, nil
	}

	for i := len(order) - 1; i > 0; i-- {
		c := order[i]
		up := cliquetree.Reverse(e.via[c])
		m, err := product(c, up)
		if err != nil {
			return nil, err
		}
		keep := append([]potential.Variable{e.top.Edge(up).Separator}, free...)
		msg, mass := m.Marginalize(keep...).Normalize()
		if !(mass > 0) || math.IsInf(mass, 1) {
			return nil, NewDegeneracyError(c, mass)
		}
		temp[up] = msg
	}

	m, err := product(pivot, -1)
	if err != nil {
		return nil, err
	}
	b, mass := m.Marginalize(free...).Normalize()
	if !(mass > 0) || math.IsInf(mass, 1) {
		return nil, NewDegeneracyError(pivot, mass)
	}
	return e.withObserved(b, vars)
}

// subtreePivot marks subtree in e.mark, checks that it is connected and
// covers vars, and returns its clique closest to the tree pivot.
func (e *Engine) subtreePivot(subtree []int, vars []potential.Variable) (int, error) {
	clear(e.mark)
	for _, c := range subtree {
		if c < 0 || c >= e.top.Len() {
			return -1, NewPreconditionError("", "clique %d out of range", c)
		}
		e.mark[c] = true
	}

	pivot, tops := -1, 0
	for c, in := range e.mark {
		if !in {
			continue
		}
		if pe := e.top.ParentEdge(c); pe < 0 || !e.mark[e.top.Edge(pe).To] {
			tops++
			pivot = c
		}
	}
	if tops != 1 {
		clear(e.mark)
		return -1, NewPreconditionError("", "joint belief subtree is not connected")
	}

	for _, v := range vars {
		covered := false
		for _, c := range subtree {
			if containsVar(e.top.Clique(c).Vars, v) {
				covered = true
				break
			}
		}
		if !covered {
			clear(e.mark)
			return -1, NewPreconditionError(v.Name, "variable not covered by joint belief subtree")
		}
	}
	return pivot, nil
}

func containsVar(vars []potential.Variable, v potential.Variable) bool {
	for _, w := range vars {
		if w.ID == v.ID {
			return true
		}
	}
	return false
}
