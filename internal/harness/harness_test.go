package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(x float64) *float64 { return &x }

func starScenario(t *testing.T, steps ...Step) *Scenario {
	t.Helper()
	return &Scenario{
		Name:        "star",
		Description: "Star model",
		Model:       createTestModel(t, t.TempDir()),
		TopLevel:    []string{"Z"},
		Steps:       steps,
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := starScenario(t, Step{
		Evidence: map[string]int{"X1": 1},
		Expect: &ExpectClause{
			Likelihood: ptr(0.5),
			Beliefs:    map[string][]float64{"Z": {0.2, 0.8}},
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 1)
	st := result.Trace[0]
	assert.Equal(t, 0, st.Step)
	assert.Equal(t, map[string]int{"X1": 1}, st.Evidence)
	assert.InDelta(t, 0.5, st.Likelihood, 1e-12)
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, st.Beliefs["Z"], 1e-12)
	assert.Empty(t, st.Error)
	assert.Equal(t, 0, st.Focused)
}

func TestRun_PositiveOnlyEvidence(t *testing.T) {
	// X1 = 1 and X2 = 0: P = 0.5*0.2*0.6 + 0.5*0.8*0.1 = 0.1
	scenario := starScenario(t,
		Step{
			Positives: []string{"X1"},
			Expect: &ExpectClause{
				Likelihood: ptr(0.1),
				Beliefs:    map[string][]float64{"Z": {0.6, 0.4}},
			},
		},
		Step{
			Positives:  []string{"X1"},
			Restricted: true,
			Expect: &ExpectClause{
				Likelihood: ptr(0.1),
				Beliefs:    map[string][]float64{"Z": {0.6, 0.4}},
			},
		},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	// The root's territory is the whole tree.
	assert.Equal(t, 4, result.Trace[1].Focused)
	assert.Empty(t, result.Trace[1].OutOfScope)
	assert.Equal(t, []string{"X1"}, result.Trace[1].Positives)
}

func TestRun_ExpectMismatch(t *testing.T) {
	scenario := starScenario(t, Step{
		Evidence: map[string]int{"X1": 1},
		Expect: &ExpectClause{
			Likelihood:    ptr(0.4),
			LogLikelihood: ptr(0),
			Beliefs: map[string][]float64{
				"Z":  {0.5, 0.5},
				"X9": {1, 0},
			},
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "steps[0].likelihood")
	assert.Contains(t, result.Errors[1], "steps[0].log_likelihood")
	// Belief mismatches are reported in name order.
	assert.Contains(t, result.Errors[2], "X9 = [1 0]")
	assert.Contains(t, result.Errors[2], "not queried")
	assert.Contains(t, result.Errors[3], "Z = [0.5 0.5]")
}

func TestRun_ToleranceIsHonored(t *testing.T) {
	scenario := starScenario(t, Step{
		Evidence: map[string]int{"X1": 1},
		Expect: &ExpectClause{
			Likelihood: ptr(0.5004),
			Tolerance:  1e-3,
		},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ErrorExpectations(t *testing.T) {
	tests := []struct {
		name     string
		step     Step
		wantPass bool
		wantErr  string
	}{
		{
			name:     "expected precondition",
			step:     Step{Evidence: map[string]int{"X1": 5}, Expect: &ExpectClause{Error: "PRECONDITION_VIOLATION"}},
			wantPass: true,
		},
		{
			name:    "unexpected failure",
			step:    Step{Evidence: map[string]int{"X1": 5}},
			wantErr: "Expected: success",
		},
		{
			name:    "expected failure but succeeded",
			step:    Step{Evidence: map[string]int{"X1": 1}, Expect: &ExpectClause{Error: "NUMERIC_DEGENERACY"}},
			wantErr: "Actual: success",
		},
		{
			name:    "wrong code",
			step:    Step{Evidence: map[string]int{"X1": 5}, Expect: &ExpectClause{Error: "NUMERIC_DEGENERACY"}},
			wantErr: "Actual: PRECONDITION_VIOLATION",
		},
		{
			name:     "unknown evidence variable",
			step:     Step{Evidence: map[string]int{"nope": 1}, Expect: &ExpectClause{Error: "PRECONDITION_VIOLATION"}},
			wantPass: true,
		},
		{
			name:     "unknown positive variable",
			step:     Step{Positives: []string{"nope"}, Expect: &ExpectClause{Error: "PRECONDITION_VIOLATION"}},
			wantPass: true,
		},
		{
			name:     "unknown query variable",
			step:     Step{Query: []string{"nope"}, Expect: &ExpectClause{Error: "PRECONDITION_VIOLATION"}},
			wantPass: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(starScenario(t, tt.step))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, result.Pass, "errors: %v", result.Errors)
			if tt.wantErr != "" {
				require.Len(t, result.Errors, 1)
				assert.Contains(t, result.Errors[0], tt.wantErr)
			}
		})
	}
}

func TestRun_FailedStepDoesNotLeak(t *testing.T) {
	scenario := starScenario(t,
		Step{Evidence: map[string]int{"X2": 1}},
		Step{Evidence: map[string]int{"X1": 9}, Expect: &ExpectClause{Error: "PRECONDITION_VIOLATION"}},
		Step{Evidence: map[string]int{"X2": 1}},
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, result.Trace[0].Beliefs, result.Trace[2].Beliefs)
	assert.Equal(t, result.Trace[0].LogLikelihood, result.Trace[2].LogLikelihood)
	assert.InDelta(t, 0.65, result.Trace[2].Likelihood, 1e-12)
}

func TestRun_QueryObservedVariable(t *testing.T) {
	scenario := starScenario(t, Step{
		Evidence: map[string]int{"X1": 1},
		Query:    []string{"X1", "X2"},
	})

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	beliefs := result.Trace[0].Beliefs
	assert.Equal(t, []float64{0, 1}, beliefs["X1"])
	// P(X2=1 | X1=1) = 0.2*0.4 + 0.8*0.9
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, beliefs["X2"], 1e-12)
	assert.NotContains(t, beliefs, "Z")
}

func TestRun_SetupErrors(t *testing.T) {
	dir := t.TempDir()
	model := createTestModel(t, dir)

	_, err := Run(&Scenario{Name: "s", Model: model, ModelName: "Other", Steps: []Step{{}}})
	assert.ErrorContains(t, err, "failed to load model")

	_, err = Run(&Scenario{Name: "s", Model: model, TopLevel: []string{"W"}, Steps: []Step{{}}})
	assert.ErrorContains(t, err, `unknown variable "W"`)

	_, err = Run(&Scenario{Name: "s", Model: model, TopLevel: []string{"X1"}, Steps: []Step{{}}})
	assert.ErrorContains(t, err, "failed to create session")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "tree_restricted.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := GoldenBytes(scenario.Name, first)
	require.NoError(t, err)
	b, err := GoldenBytes(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_TreeScenarioTrace(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "tree_restricted.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, len(scenario.Steps))

	restricted := result.Trace[2]
	assert.True(t, restricted.Restricted)
	assert.Equal(t, 6, restricted.Focused)
	assert.Equal(t, []string{"B"}, restricted.OutOfScope)
	assert.NotContains(t, restricted.Beliefs, "B")
	assert.Contains(t, restricted.Beliefs, "R")
	assert.Contains(t, restricted.Beliefs, "A")

	assert.Equal(t, "PRECONDITION_VIOLATION", result.Trace[4].Error)
	assert.Equal(t, 10, result.Trace[6].Focused)
	assert.Empty(t, result.Trace[6].OutOfScope)
}

func TestRun_ExampleScenariosPass(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)

	result.AddError("first")
	result.AddError("second")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"first", "second"}, result.Errors)
}

func TestResult_AddStep(t *testing.T) {
	result := NewResult()
	result.AddStep(StepTrace{Step: 0})
	result.AddStep(StepTrace{Step: 1, Error: "NUMERIC_DEGENERACY"})
	require.Len(t, result.Trace, 2)
	assert.Equal(t, 1, result.Trace[1].Step)
	assert.True(t, result.Pass)
}
