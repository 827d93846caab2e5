package engine

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/roach88/latentrec/internal/cliquetree"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/metrics"
	"github.com/roach88/latentrec/internal/potential"
)

// Engine answers inference queries for one evidence assignment at a time.
//
// Thread-safety: an Engine is NOT safe for concurrent use. Obtain one per
// worker from Session.NewEngine, Clone or a pool.
type Engine struct {
	session *Session
	model   *ir.Model
	top     *cliquetree.Topology
	tree    *cliquetree.Tree
	st      *cliqueState

	evidence  []int // per variable, potential.Missing when unset
	positives []int // variable IDs observed in state 1, sorted
	focus     []int // current restricted range, nil for the full tree

	// diverged is set once a full-scope absorption replaces snapshot state
	// outside any restricted range.
	diverged bool

	propagated    bool
	likelihood    float64
	logLikelihood float64

	// traversal scratch, sized to the topology
	order []int
	stack []int
	via   []int
	mark  []bool
}

func newEngine(s *Session, st *cliqueState) *Engine {
	n := s.top.Len()
	e := &Engine{
		session:  s,
		model:    s.model,
		top:      s.top,
		tree:     cliquetree.New(s.top),
		st:       st,
		evidence: make([]int, s.model.Len()),
		order:    make([]int, 0, n),
		stack:    make([]int, 0, n),
		via:      make([]int, n),
		mark:     make([]bool, n),
	}
	for i := range e.evidence {
		e.evidence[i] = potential.Missing
	}
	return e
}

// Session returns the session the engine is bound to.
func (e *Engine) Session() *Session { return e.session }

// Tree returns the engine's clique tree view.
func (e *Engine) Tree() *cliquetree.Tree { return e.tree }

// Clone returns an independent engine with a copy of e's state. The
// topology and CPTs are shared.
func (e *Engine) Clone() *Engine {
	c := newEngine(e.session, e.st.clone())
	c.tree = e.tree.Clone()
	copy(c.evidence, e.evidence)
	c.positives = slices.Clone(e.positives)
	c.focus = slices.Clone(e.focus)
	c.diverged = e.diverged
	c.propagated = e.propagated
	c.likelihood = e.likelihood
	c.logLikelihood = e.logLikelihood
	return c
}

// SetEvidence replaces the evidence with states[i] observed for vars[i].
// Entries equal to potential.Missing are skipped. Variables observed in state
// 1 are recorded as positives for FindAndSetPropagationRange.
//
// On error the previous evidence is kept.
func (e *Engine) SetEvidence(vars []potential.Variable, states []int) error {
	if len(vars) != len(states) {
		return NewPreconditionError("", "evidence has %d variables but %d states", len(vars), len(states))
	}

	evidence := make([]int, len(e.evidence))
	for i := range evidence {
		evidence[i] = potential.Missing
	}
	var positives []int
	for i, v := range vars {
		s := states[i]
		if s == potential.Missing {
			continue
		}
		if !e.model.Has(v) {
			return NewPreconditionError(v.Name, "variable not in model %q", e.model.Name())
		}
		if !v.Valid(s) {
			return NewPreconditionError(v.Name, "state %d out of range [0,%d)", s, v.Card)
		}
		evidence[v.ID] = s
	}
	for id, s := range evidence {
		if s == 1 {
			positives = append(positives, id)
		}
	}

	e.evidence = evidence
	e.positives = positives
	e.propagated = false
	return nil
}

// SetPositiveOnlyEvidence observes every variable of positive in state 1
// and every other variable of domain in state 0.
func (e *Engine) SetPositiveOnlyEvidence(positive, domain []potential.Variable) error {
	vars := make([]potential.Variable, 0, len(domain)+len(positive))
	states := make([]int, 0, len(domain)+len(positive))

	isPositive := make(map[int]bool, len(positive))
	for _, v := range positive {
		if !e.model.Has(v) {
			return NewPreconditionError(v.Name, "variable not in model %q", e.model.Name())
		}
		isPositive[v.ID] = true
		vars = append(vars, v)
		states = append(states, 1)
	}
	for _, v := range domain {
		if !isPositive[v.ID] {
			vars = append(vars, v)
			states = append(states, 0)
		}
	}
	return e.SetEvidence(vars, states)
}

// Evidence returns the observed state of v, or potential.Missing.
func (e *Engine) Evidence(v potential.Variable) int {
	if !e.model.Has(v) {
		return potential.Missing
	}
	return e.evidence[v.ID]
}

// Positives returns the IDs of the variables observed in state 1.
func (e *Engine) Positives() []int { return slices.Clone(e.positives) }

// AbsorbEvidence attaches the evidence-projected CPT of every variable to
// its family clique and clears the message products, for the cliques in
// scope. Propagate calls it.
func (e *Engine) AbsorbEvidence() error {
	absorb := func(c int) error {
		cl := e.top.Clique(c)
		e.st.msgsProd[c] = nil
		for _, out := range cl.Out {
			e.st.qualified[cliquetree.Reverse(out)] = false
		}
		if cl.Kind != cliquetree.Family {
			e.st.funcs[c] = nil
			return nil
		}
		f, err := e.projectedCPT(cl.Var)
		if err != nil {
			return err
		}
		e.st.funcs[c] = f
		return nil
	}

	if e.focus != nil {
		for _, c := range e.focus {
			if err := absorb(c); err != nil {
				return err
			}
		}
		return nil
	}
	e.diverged = true
	for c := 0; c < e.top.Len(); c++ {
		if err := absorb(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) projectedCPT(id int) (*potential.Potential, error) {
	node := e.model.Node(id)
	f := node.CPT
	var err error
	if s := e.evidence[id]; s != potential.Missing {
		if f, err = f.Project(node.Var, s); err != nil {
			return nil, NewPreconditionError(node.Var.Name, "%v", err)
		}
	}
	if node.Parent >= 0 {
		pv := e.model.Variable(node.Parent)
		if s := e.evidence[node.Parent]; s != potential.Missing {
			if f, err = f.Project(pv, s); err != nil {
				return nil, NewPreconditionError(pv.Name, "%v", err)
			}
		}
	}
	return f, nil
}

// Propagate runs a full two-pass propagation over the current scope and
// returns the likelihood of the evidence. A done ctx aborts before any
// state is touched.
func (e *Engine) Propagate(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, e.fail(NewInterruptedError(err))
	}
	e.propagated = false
	start := time.Now()

	if err := e.AbsorbEvidence(); err != nil {
		return 0, e.fail(err)
	}

	var f messageFormula = cachedProduct{}
	scope := metrics.ScopeFull
	if e.focus != nil {
		f = plainProduct{}
		scope = metrics.ScopeRestricted
	}
	pivot := e.tree.Pivot()

	// Collect: descend into a neighbor only if its message toward us is
	// missing or it is in scope; out-of-scope messages are kept.
	order := e.traverse(pivot, func(edge int) bool {
		return e.st.msgs[cliquetree.Reverse(edge)] == nil || e.tree.InFocusedSubtree(e.top.Edge(edge).To)
	})
	for i := len(order) - 1; i > 0; i-- {
		if err := e.sendMessage(f, cliquetree.Reverse(e.via[order[i]])); err != nil {
			return 0, e.fail(err)
		}
	}

	// Distribute to every clique in scope.
	order = e.traverse(pivot, func(edge int) bool {
		return e.tree.InFocusedSubtree(e.top.Edge(edge).To)
	})
	for _, c := range order[1:] {
		if err := e.sendMessage(f, e.via[c]); err != nil {
			return 0, e.fail(err)
		}
	}

	if err := e.computeLikelihood(pivot); err != nil {
		return 0, e.fail(err)
	}
	e.propagated = true
	metrics.Propagations.WithLabelValues(scope).Inc()
	metrics.PropagationSeconds.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	return e.likelihood, nil
}

func (e *Engine) fail(err error) error {
	metrics.PropagationFailures.WithLabelValues(string(CodeOf(err))).Inc()
	return err
}

// traverse returns cliques reachable from root in pre-order, entering a
// neighbor only when descend accepts the edge leading to it. e.via records
// the edge each clique was entered through.
func (e *Engine) traverse(root int, descend func(edge int) bool) []int {
	order := e.order[:0]
	stack := append(e.stack[:0], root)
	e.via[root] = -1
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, c)
		back := -1
		if e.via[c] >= 0 {
			back = cliquetree.Reverse(e.via[c])
		}
		for _, out := range e.top.Clique(c).Out {
			if out == back || !descend(out) {
				continue
			}
			next := e.top.Edge(out).To
			e.via[next] = out
			stack = append(stack, next)
		}
	}
	e.order, e.stack = order, stack
	return order
}

// localPotential returns the absorbed potential of clique c, or the unit
// table over its free variable for a variable clique.
func (e *Engine) localPotential(c int) *potential.Potential {
	if f := e.st.funcs[c]; f != nil {
		return f
	}
	cl := e.top.Clique(c)
	if cl.Kind == cliquetree.VariableKind && e.evidence[cl.Var] == potential.Missing {
		return potential.Ones(e.model.Variable(cl.Var))
	}
	return potential.Identity()
}

// cliqueProduct multiplies the local potential of c with every incoming
// message. It is the unnormalized belief of the clique.
func (e *Engine) cliqueProduct(c int) (*potential.Potential, float64, float64, error) {
	m := e.localPotential(c)
	norm, logNorm := 1.0, 0.0
	for _, out := range e.top.Clique(c).Out {
		in := cliquetree.Reverse(out)
		msg := e.st.msgs[in]
		if msg == nil {
			return nil, 0, 0, NewNotPropagatedError("belief")
		}
		m = m.Times(msg)
		norm *= e.st.norm[in]
		logNorm += e.st.logNorm[in]
	}
	return m, norm, logNorm, nil
}

func (e *Engine) computeLikelihood(pivot int) error {
	m, norm, logNorm, err := e.cliqueProduct(pivot)
	if err != nil {
		return err
	}
	n := m.Sum()
	if !(n > 0) || math.IsInf(n, 1) {
		return NewDegeneracyError(pivot, n)
	}
	e.likelihood = n * norm
	e.logLikelihood = math.Log(n) + logNorm
	return nil
}

// Likelihood returns the probability of the evidence computed by the last
// successful Propagate. It may underflow to zero on large models; use
// LogLikelihood there.
func (e *Engine) Likelihood() (float64, error) {
	if !e.propagated {
		return 0, NewNotPropagatedError("Likelihood")
	}
	return e.likelihood, nil
}

// LogLikelihood returns the natural log of the evidence probability.
func (e *Engine) LogLikelihood() (float64, error) {
	if !e.propagated {
		return 0, NewNotPropagatedError("LogLikelihood")
	}
	return e.logLikelihood, nil
}

// Belief returns the posterior distribution of v. An observed variable gets
// a point mass at its observed state.
//
// Under a focused subtree only variables whose family clique is in scope
// are exact; see InScope.
func (e *Engine) Belief(v potential.Variable) (*potential.Potential, error) {
	if !e.propagated {
		return nil, NewNotPropagatedError("Belief")
	}
	c, ok := e.top.FamilyClique(v)
	if !ok {
		return nil, NewPreconditionError(v.Name, "variable not in model %q", e.model.Name())
	}
	if s := e.evidence[v.ID]; s != potential.Missing {
		return potential.Indicator([]potential.Variable{v}, []int{s})
	}

	m, _, _, err := e.cliqueProduct(c)
	if err != nil {
		return nil, err
	}
	b, mass := m.Marginalize(v).Normalize()
	if !(mass > 0) || math.IsInf(mass, 1) {
		return nil, NewDegeneracyError(c, mass)
	}
	return b, nil
}

// FamilyBelief returns the joint posterior of v and its parent.
func (e *Engine) FamilyBelief(v potential.Variable) (*potential.Potential, error) {
	if !e.propagated {
		return nil, NewNotPropagatedError("FamilyBelief")
	}
	c, ok := e.top.FamilyClique(v)
	if !ok {
		return nil, NewPreconditionError(v.Name, "variable not in model %q", e.model.Name())
	}

	m, _, _, err := e.cliqueProduct(c)
	if err != nil {
		return nil, err
	}
	b, mass := m.Normalize()
	if !(mass > 0) || math.IsInf(mass, 1) {
		return nil, NewDegeneracyError(c, mass)
	}
	return e.withObserved(b, e.top.Clique(c).Vars)
}

// withObserved multiplies in the point mass of every observed variable of
// vars, restoring the dimensions evidence absorption projected away.
func (e *Engine) withObserved(b *potential.Potential, vars []potential.Variable) (*potential.Potential, error) {
	for _, v := range vars {
		if s := e.evidence[v.ID]; s != potential.Missing {
			ind, err := potential.Indicator([]potential.Variable{v}, []int{s})
			if err != nil {
				return nil, err
			}
			b = b.Times(ind)
		}
	}
	return b, nil
}

// InScope reports whether the belief of v is exact under the current
// scope, that is whether its family clique is in the focused subtree.
func (e *Engine) InScope(v potential.Variable) bool {
	c, ok := e.top.FamilyClique(v)
	return ok && e.tree.InFocusedSubtree(c)
}
