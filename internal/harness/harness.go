package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/latentrec/internal/compiler"
	"github.com/roach88/latentrec/internal/engine"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// Harness runs the steps of one scenario on a single engine.
type Harness struct {
	model   *ir.Model
	session *engine.Session
	engine  *engine.Engine
	leaves  []potential.Variable
	latents []potential.Variable
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Compile and validate the scenario's model
// 2. Build a session, with top-level variables if the scenario names any
// 3. Execute the steps in order on one engine
// 4. Check expect clauses and assertions against the trace
//
// Returned errors are setup failures. Inference failures are recorded in
// the trace and checked against the step's expect clause.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	m, err := compiler.LoadModel(scenario.Model, scenario.ModelName)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	var opts []engine.SessionOption
	if len(scenario.TopLevel) > 0 {
		ids := make([]int, len(scenario.TopLevel))
		for i, name := range scenario.TopLevel {
			id, ok := m.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("top_level[%d]: unknown variable %q", i, name)
			}
			ids[i] = id
		}
		opts = append(opts, engine.WithTopLevel(ids...))
	}

	session, err := engine.NewSession(ctx, m, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	h := &Harness{
		model:   m,
		session: session,
		engine:  session.NewEngine(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, id := range m.Leaves() {
		h.leaves = append(h.leaves, m.Variable(id))
	}
	for _, id := range m.Latents() {
		h.latents = append(h.latents, m.Variable(id))
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		st := h.executeStep(ctx, i, step)
		result.AddStep(st)
		for _, msg := range checkExpect(i, step.Expect, st) {
			result.AddError(msg)
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// executeStep sets the step's evidence, propagates and records the beliefs.
// The engine is idle again when it returns, whether the step failed or not.
func (h *Harness) executeStep(ctx context.Context, index int, step Step) StepTrace {
	st := StepTrace{
		Step:       index,
		Evidence:   step.Evidence,
		Positives:  step.Positives,
		Restricted: step.Restricted,
	}
	if st.Evidence == nil {
		st.Evidence = map[string]int{}
	}

	fail := func(err error) StepTrace {
		code := engine.CodeOf(err)
		if code == "" {
			code = engine.ErrCodePrecondition
		}
		st.Error = string(code)
		h.logger.Debug("step failed", "step", index, "error", err)
		h.engine.ResetAll()
		return st
	}

	if err := h.setEvidence(step); err != nil {
		return fail(err)
	}

	var rng []int
	if step.Restricted {
		var err error
		rng, err = h.engine.FindAndSetPropagationRange()
		if err != nil {
			return fail(err)
		}
		defer h.engine.ResetMessages(rng)
		st.Focused = len(rng)
	}

	if _, err := h.engine.Propagate(ctx); err != nil {
		return fail(err)
	}
	// Propagate succeeded, so neither query can fail.
	st.Likelihood, _ = h.engine.Likelihood()
	st.LogLikelihood, _ = h.engine.LogLikelihood()

	query := h.latents
	if len(step.Query) > 0 {
		query = query[:0:0]
		for _, name := range step.Query {
			id, ok := h.model.Lookup(name)
			if !ok {
				return fail(engine.NewPreconditionError(name, "unknown variable"))
			}
			query = append(query, h.model.Variable(id))
		}
	}

	st.Beliefs = make(map[string][]float64, len(query))
	for _, v := range query {
		if !h.engine.InScope(v) {
			st.OutOfScope = append(st.OutOfScope, v.Name)
			continue
		}
		b, err := h.engine.Belief(v)
		if err != nil {
			return fail(err)
		}
		st.Beliefs[v.Name] = slices.Clone(b.Cells())
	}
	slices.Sort(st.OutOfScope)

	h.logger.Debug("step done",
		"step", index,
		"focused", st.Focused,
		"log_likelihood", st.LogLikelihood,
	)
	return st
}

func (h *Harness) setEvidence(step Step) error {
	if len(step.Positives) > 0 {
		positive := make([]potential.Variable, len(step.Positives))
		for i, name := range step.Positives {
			id, ok := h.model.Lookup(name)
			if !ok {
				return engine.NewPreconditionError(name, "unknown variable")
			}
			positive[i] = h.model.Variable(id)
		}
		return h.engine.SetPositiveOnlyEvidence(positive, h.leaves)
	}

	names := make([]string, 0, len(step.Evidence))
	for name := range step.Evidence {
		names = append(names, name)
	}
	slices.Sort(names)

	vars := make([]potential.Variable, len(names))
	states := make([]int, len(names))
	for i, name := range names {
		id, ok := h.model.Lookup(name)
		if !ok {
			return engine.NewPreconditionError(name, "unknown variable")
		}
		vars[i] = h.model.Variable(id)
		states[i] = step.Evidence[name]
	}
	return h.engine.SetEvidence(vars, states)
}
