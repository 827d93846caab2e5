package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// Session holds everything computed once per model: the junction tree, the
// restriction index and the default message snapshot.
//
// Thread-safety: a Session is immutable after NewSession and safe for
// concurrent use.
type Session struct {
	model       *ir.Model
	top         *cliquetree.Topology
	restriction *restrictionIndex
	snapshot    *Snapshot
	baseline    []*potential.Potential
}

type sessionConfig struct {
	topLevel []int
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithTopLevel sets the top-level latent variables that partition the tree
// for restricted propagation. Every leaf must descend from one of them.
// Without it FindAndSetPropagationRange is unavailable.
func WithTopLevel(ids ...int) SessionOption {
	return func(c *sessionConfig) {
		c.topLevel = slices.Clone(ids)
	}
}

// NewSession builds the junction tree of m, the restriction index and the
// default message snapshot.
func NewSession(ctx context.Context, m *ir.Model, opts ...SessionOption) (*Session, error) {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		model: m,
		top:   cliquetree.Build(m),
	}
	if len(cfg.topLevel) > 0 {
		idx, err := newRestrictionIndex(m, s.top, cfg.topLevel)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", m.Name(), err)
		}
		s.restriction = idx
	}

	snap, baseline, err := makeDefaultSnapshot(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("session %q: default snapshot: %w", m.Name(), err)
	}
	s.snapshot = snap
	s.baseline = baseline

	slog.Info("session ready",
		"model", m.Name(),
		"variables", m.Len(),
		"cliques", s.top.Len(),
		"top_level", len(cfg.topLevel),
		"baseline_log_likelihood", snap.logLikelihood,
	)
	return s, nil
}

// Model returns the session's model.
func (s *Session) Model() *ir.Model { return s.model }

// Topology returns the shared junction tree.
func (s *Session) Topology() *cliquetree.Topology { return s.top }

// Restricted reports whether top-level variables were configured.
func (s *Session) Restricted() bool { return s.restriction != nil }

// TopLevel returns the configured top-level variable IDs, sorted.
func (s *Session) TopLevel() []int {
	if s.restriction == nil {
		return nil
	}
	return slices.Clone(s.restriction.anchors[:s.restriction.numTop])
}

// DefaultSnapshot returns the snapshot engines start from.
func (s *Session) DefaultSnapshot() *Snapshot { return s.snapshot }

// NewEngine returns an engine initialized from the default snapshot, with
// no evidence set.
func (s *Session) NewEngine() *Engine {
	return newEngine(s, s.snapshot.state.clone())
}

// BaselinePosterior returns the posterior of v when every leaf is observed
// in state 0, the condition of the default snapshot.
func (s *Session) BaselinePosterior(v potential.Variable) (*potential.Potential, error) {
	if !s.model.Has(v) {
		return nil, NewPreconditionError(v.Name, "variable not in model %q", s.model.Name())
	}
	return s.baseline[v.ID], nil
}
