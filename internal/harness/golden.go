package harness

import (
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/latentrec/internal/ir"
)

// GoldenPrecision is the number of decimals kept in golden snapshots.
const GoldenPrecision = 6

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string      `json:"scenario_name"`
	Trace        []StepTrace `json:"trace"`
}

// roundGolden rounds x to GoldenPrecision decimals so that snapshots do
// not depend on the last bits of floating-point summation order.
func roundGolden(x float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', GoldenPrecision, 64), 64)
	if err != nil {
		return x
	}
	return r
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles primitives, []any and map[string]any.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, st := range s.Trace {
		evidence := make(map[string]any, len(st.Evidence))
		for name, state := range st.Evidence {
			evidence[name] = state
		}
		stepMap := map[string]any{
			"step":       st.Step,
			"evidence":   evidence,
			"restricted": st.Restricted,
			"focused":    st.Focused,
		}
		if len(st.Positives) > 0 {
			positives := make([]any, len(st.Positives))
			for j, name := range st.Positives {
				positives[j] = name
			}
			stepMap["positives"] = positives
		}
		if st.Error != "" {
			stepMap["error"] = st.Error
			traceList[i] = stepMap
			continue
		}

		stepMap["likelihood"] = roundGolden(st.Likelihood)
		stepMap["log_likelihood"] = roundGolden(st.LogLikelihood)

		beliefs := make(map[string]any, len(st.Beliefs))
		for name, cells := range st.Beliefs {
			row := make([]any, len(cells))
			for j, x := range cells {
				row[j] = roundGolden(x)
			}
			beliefs[name] = row
		}
		stepMap["beliefs"] = beliefs

		if len(st.OutOfScope) > 0 {
			out := make([]any, len(st.OutOfScope))
			for j, name := range st.OutOfScope {
				out[j] = name
			}
			stepMap["out_of_scope"] = out
		}
		traceList[i] = stepMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}

// GoldenBytes returns the canonical JSON snapshot of a result's trace.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}
