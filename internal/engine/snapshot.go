package engine

import (
	"context"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/potential"
)

// Snapshot is the clique state of a full propagation with every leaf
// observed in state 0. It is captured once per session and never mutated.
type Snapshot struct {
	state         *cliqueState
	likelihood    float64
	logLikelihood float64
}

// Likelihood returns the probability of the all-zero leaf evidence.
func (s *Snapshot) Likelihood() float64 { return s.likelihood }

// LogLikelihood returns the log probability of the all-zero leaf evidence.
func (s *Snapshot) LogLikelihood() float64 { return s.logLikelihood }

// makeDefaultSnapshot propagates all-zero leaf evidence over the full tree
// on a fresh engine and captures its state and every variable's posterior.
func makeDefaultSnapshot(ctx context.Context, s *Session) (*Snapshot, []*potential.Potential, error) {
	e := newEngine(s, newCliqueState(s.top.Len(), s.top.NumEdges()))

	leaves := s.model.Leaves()
	domain := make([]potential.Variable, len(leaves))
	for i, id := range leaves {
		domain[i] = s.model.Variable(id)
	}
	if err := e.SetPositiveOnlyEvidence(nil, domain); err != nil {
		return nil, nil, err
	}
	if _, err := e.Propagate(ctx); err != nil {
		return nil, nil, err
	}

	baseline := make([]*potential.Potential, s.model.Len())
	for id := range baseline {
		b, err := e.Belief(s.model.Variable(id))
		if err != nil {
			return nil, nil, err
		}
		baseline[id] = b
	}

	return &Snapshot{
		state:         e.st.clone(),
		likelihood:    e.likelihood,
		logLikelihood: e.logLikelihood,
	}, baseline, nil
}

// ResetMessages restores the given cliques from the default snapshot: their
// local potentials, message products, outgoing messages with normalizations
// and the qualified flags of their incoming edges. It clears the focused
// subtree and returns the engine to the idle state.
//
// Passing the range returned by FindAndSetPropagationRange undoes one
// restricted query in time proportional to the range.
func (e *Engine) ResetMessages(cliques []int) {
	snap := e.session.snapshot.state
	for _, c := range cliques {
		if c < 0 || c >= e.top.Len() {
			continue
		}
		e.st.funcs[c] = snap.funcs[c]
		e.st.msgsProd[c] = snap.msgsProd[c]
		for _, out := range e.top.Clique(c).Out {
			e.st.msgs[out] = snap.msgs[out]
			e.st.norm[out] = snap.norm[out]
			e.st.logNorm[out] = snap.logNorm[out]
			in := cliquetree.Reverse(out)
			e.st.qualified[in] = snap.qualified[in]
		}
	}
	e.tree.ResetFocusedSubtree()
	e.focus = nil
	e.propagated = false
}

// ResetAll restores every clique from the default snapshot.
func (e *Engine) ResetAll() {
	e.st = e.session.snapshot.state.clone()
	e.tree.ResetFocusedSubtree()
	e.focus = nil
	e.diverged = false
	e.propagated = false
}
