package harness

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

// AssertionError is returned when an expectation or assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []StepTrace // Steps involved, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, st := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] evidence=%v positives=%v restricted=%t error=%q\n",
				st.Step, st.Evidence, st.Positives, st.Restricted, st.Error)
		}
	}

	return buf.String()
}

func tolerance(t float64) float64 {
	if t == 0 {
		return DefaultTolerance
	}
	return t
}

func within(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func closeSlices(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !within(a[i], b[i], tol) {
			return false
		}
	}
	return true
}

// checkExpect compares a step trace with its expect clause and returns one
// message per mismatch. A nil clause expects success.
func checkExpect(index int, expect *ExpectClause, st StepTrace) []string {
	wantErr := ""
	if expect != nil {
		wantErr = expect.Error
	}

	fail := func(kind, expected, actual string) string {
		return (&AssertionError{
			Type:     fmt.Sprintf("steps[%d].%s", index, kind),
			Expected: expected,
			Actual:   actual,
			Trace:    []StepTrace{st},
		}).Error()
	}

	if st.Error != wantErr {
		if wantErr == "" {
			return []string{fail("error", "success", st.Error)}
		}
		actual := st.Error
		if actual == "" {
			actual = "success"
		}
		return []string{fail("error", wantErr, actual)}
	}
	if expect == nil || st.Error != "" {
		return nil
	}

	tol := tolerance(expect.Tolerance)
	var msgs []string

	if expect.Likelihood != nil && !within(*expect.Likelihood, st.Likelihood, tol) {
		msgs = append(msgs, fail("likelihood",
			fmt.Sprintf("%g", *expect.Likelihood), fmt.Sprintf("%g", st.Likelihood)))
	}
	if expect.LogLikelihood != nil && !within(*expect.LogLikelihood, st.LogLikelihood, tol) {
		msgs = append(msgs, fail("log_likelihood",
			fmt.Sprintf("%g", *expect.LogLikelihood), fmt.Sprintf("%g", st.LogLikelihood)))
	}

	// Sort for deterministic messages
	names := make([]string, 0, len(expect.Beliefs))
	for name := range expect.Beliefs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want := expect.Beliefs[name]
		got, ok := st.Beliefs[name]
		switch {
		case !ok && slices.Contains(st.OutOfScope, name):
			msgs = append(msgs, fail("beliefs", fmt.Sprintf("%s = %v", name, want), "out of scope"))
		case !ok:
			msgs = append(msgs, fail("beliefs", fmt.Sprintf("%s = %v", name, want), "not queried"))
		case !closeSlices(want, got, tol):
			msgs = append(msgs, fail("beliefs", fmt.Sprintf("%s = %v", name, want), fmt.Sprintf("%s = %v", name, got)))
		}
	}

	return msgs
}

// assertBeliefsEqual checks that the listed variables have the same
// posterior in every listed step.
func assertBeliefsEqual(trace []StepTrace, a Assertion) error {
	steps, err := pickSteps(trace, a.Steps)
	if err != nil {
		return err
	}
	tol := tolerance(a.Tolerance)

	first := steps[0]
	for _, name := range a.Variables {
		want, ok := first.Beliefs[name]
		if !ok {
			return &AssertionError{
				Type:     AssertBeliefsEqual,
				Expected: fmt.Sprintf("belief of %s in step %d", name, first.Step),
				Actual:   "not recorded",
				Trace:    steps,
			}
		}
		for _, st := range steps[1:] {
			got, ok := st.Beliefs[name]
			if !ok || !closeSlices(want, got, tol) {
				return &AssertionError{
					Type:     AssertBeliefsEqual,
					Expected: fmt.Sprintf("%s = %v (step %d)", name, want, first.Step),
					Actual:   fmt.Sprintf("%s = %v (step %d)", name, got, st.Step),
					Trace:    steps,
				}
			}
		}
	}
	return nil
}

// assertLikelihoodEqual checks that every listed step computed the same
// log-likelihood.
func assertLikelihoodEqual(trace []StepTrace, a Assertion) error {
	steps, err := pickSteps(trace, a.Steps)
	if err != nil {
		return err
	}
	tol := tolerance(a.Tolerance)

	first := steps[0]
	for _, st := range steps[1:] {
		if st.Error != "" || first.Error != "" || !within(first.LogLikelihood, st.LogLikelihood, tol) {
			return &AssertionError{
				Type:     AssertLikelihoodEqual,
				Expected: fmt.Sprintf("log likelihood %g (step %d)", first.LogLikelihood, first.Step),
				Actual:   fmt.Sprintf("log likelihood %g (step %d)", st.LogLikelihood, st.Step),
				Trace:    steps,
			}
		}
	}
	return nil
}

// assertFocusedCount checks the number of cliques a step propagated over.
func assertFocusedCount(trace []StepTrace, a Assertion) error {
	steps, err := pickSteps(trace, []int{a.Step})
	if err != nil {
		return err
	}
	if steps[0].Focused != a.Count {
		return &AssertionError{
			Type:     AssertFocusedCount,
			Expected: fmt.Sprintf("%d focused cliques", a.Count),
			Actual:   fmt.Sprintf("%d focused cliques", steps[0].Focused),
			Trace:    steps,
		}
	}
	return nil
}

// assertOutOfScope checks that the listed variables fell outside the range
// of a restricted step.
func assertOutOfScope(trace []StepTrace, a Assertion) error {
	steps, err := pickSteps(trace, []int{a.Step})
	if err != nil {
		return err
	}
	for _, name := range a.Variables {
		if !slices.Contains(steps[0].OutOfScope, name) {
			return &AssertionError{
				Type:     AssertOutOfScope,
				Expected: fmt.Sprintf("%s out of scope", name),
				Actual:   fmt.Sprintf("out of scope: %v", steps[0].OutOfScope),
				Trace:    steps,
			}
		}
	}
	return nil
}

func pickSteps(trace []StepTrace, indices []int) ([]StepTrace, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("no steps given")
	}
	steps := make([]StepTrace, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(trace) {
			return nil, fmt.Errorf("step %d out of range (trace has %d steps)", idx, len(trace))
		}
		steps[i] = trace[idx]
	}
	return steps, nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertBeliefsEqual:
			err = assertBeliefsEqual(result.Trace, assertion)
		case AssertLikelihoodEqual:
			err = assertLikelihoodEqual(result.Trace, assertion)
		case AssertFocusedCount:
			err = assertFocusedCount(result.Trace, assertion)
		case AssertOutOfScope:
			err = assertOutOfScope(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
