package engine

import (
	"math"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/potential"
)

// messageFormula combines the local potential of a clique with its incoming
// messages, excluding the one from the destination. It is chosen once per
// Propagate from the scope, not per message.
type messageFormula interface {
	// combine returns the product for the message on edge together with
	// the linear and log normalization of the messages it consumed.
	combine(e *Engine, edge int) (*potential.Potential, float64, float64, error)

	// received is called after msg has been stored on edge.
	received(e *Engine, edge int, msg *potential.Potential)
}

// plainProduct multiplies every non-destination message. Restricted
// propagation uses it because out-of-scope cliques keep snapshot products.
type plainProduct struct{}

func (plainProduct) combine(e *Engine, edge int) (*potential.Potential, float64, float64, error) {
	src := e.top.Edge(edge).From
	m := e.localPotential(src)
	norm, logNorm := 1.0, 0.0
	for _, out := range e.top.Clique(src).Out {
		if out == edge {
			continue
		}
		in := cliquetree.Reverse(out)
		msg := e.st.msgs[in]
		if msg == nil {
			return nil, 0, 0, NewPreconditionError("", "no message on edge %d into clique %d", in, src)
		}
		m = m.Times(msg)
		norm *= e.st.norm[in]
		logNorm += e.st.logNorm[in]
	}
	return m, norm, logNorm, nil
}

func (plainProduct) received(*Engine, int, *potential.Potential) {}

// cachedProduct keeps, per variable clique, the running product of incoming
// messages without zero cells ("qualified" messages). A variable clique
// sends by dividing the destination's qualified message out of that product
// instead of re-multiplying every other neighbor.
type cachedProduct struct{}

func (cachedProduct) combine(e *Engine, edge int) (*potential.Potential, float64, float64, error) {
	src := e.top.Edge(edge).From
	if e.top.Clique(src).Kind != cliquetree.VariableKind {
		return plainProduct{}.combine(e, edge)
	}

	m := e.localPotential(src)
	if prod := e.st.msgsProd[src]; prod != nil {
		m = m.Times(prod)
		if back := cliquetree.Reverse(edge); e.st.qualified[back] {
			var err error
			if m, err = m.Divide(e.st.msgs[back]); err != nil {
				return nil, 0, 0, NewPreconditionError("", "%v", err)
			}
		}
	}

	norm, logNorm := 1.0, 0.0
	for _, out := range e.top.Clique(src).Out {
		if out == edge {
			continue
		}
		in := cliquetree.Reverse(out)
		msg := e.st.msgs[in]
		if msg == nil {
			return nil, 0, 0, NewPreconditionError("", "no message on edge %d into clique %d", in, src)
		}
		if !e.st.qualified[in] {
			m = m.Times(msg)
		}
		norm *= e.st.norm[in]
		logNorm += e.st.logNorm[in]
	}
	return m, norm, logNorm, nil
}

func (cachedProduct) received(e *Engine, edge int, msg *potential.Potential) {
	dst := e.top.Edge(edge).To
	if e.top.Clique(dst).Kind != cliquetree.VariableKind || msg.HasZeroCell() {
		return
	}
	if prod := e.st.msgsProd[dst]; prod != nil {
		e.st.msgsProd[dst] = prod.Times(msg)
	} else {
		e.st.msgsProd[dst] = msg
	}
	e.st.qualified[edge] = true
}

// sendMessage computes and stores the message on edge: the combined
// product summed down to the separator, normalized to one. The removed mass
// folds into the edge's normalization pair.
func (e *Engine) sendMessage(f messageFormula, edge int) error {
	m, norm, logNorm, err := f.combine(e, edge)
	if err != nil {
		return err
	}
	ed := e.top.Edge(edge)
	msg, mass := m.Marginalize(ed.Separator).Normalize()
	if !(mass > 0) || math.IsInf(mass, 1) {
		return NewDegeneracyError(ed.From, mass)
	}

	e.st.msgs[edge] = msg
	e.st.norm[edge] = norm * mass
	e.st.logNorm[edge] = logNorm + math.Log(mass)
	f.received(e, edge, msg)
	return nil
}
