package engine

import (
	"slices"

	"github.com/roach88/latentrec/internal/potential"
)

// cliqueState is the message cache of one engine. Potentials are immutable,
// so copying the slices copies the state.
type cliqueState struct {
	funcs     []*potential.Potential // per clique: absorbed local potential
	msgsProd  []*potential.Potential // per clique: product of qualified incoming messages
	msgs      []*potential.Potential // per directed edge
	norm      []float64              // per directed edge
	logNorm   []float64              // per directed edge
	qualified []bool                 // per directed edge: message folded into msgsProd
}

func newCliqueState(cliques, edges int) *cliqueState {
	return &cliqueState{
		funcs:     make([]*potential.Potential, cliques),
		msgsProd:  make([]*potential.Potential, cliques),
		msgs:      make([]*potential.Potential, edges),
		norm:      make([]float64, edges),
		logNorm:   make([]float64, edges),
		qualified: make([]bool, edges),
	}
}

func (s *cliqueState) clone() *cliqueState {
	return &cliqueState{
		funcs:     slices.Clone(s.funcs),
		msgsProd:  slices.Clone(s.msgsProd),
		msgs:      slices.Clone(s.msgs),
		norm:      slices.Clone(s.norm),
		logNorm:   slices.Clone(s.logNorm),
		qualified: slices.Clone(s.qualified),
	}
}
