package harness

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files were computed by brute-force enumeration of the models in
// testdata/models. Regenerate with:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden_TreeRestricted(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "tree_restricted.yaml"))
	require.NoError(t, err)

	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRunWithGolden_HardRecovery(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "hard_recovery.yaml"))
	require.NoError(t, err)

	require.NoError(t, RunWithGolden(t, scenario))
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "hard_recovery.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.NoError(t, AssertGolden(t, "hard_recovery", result))
}

func TestCanonicalJSONDeterminism(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "determinism_test",
		Trace: []StepTrace{
			{
				Step:          0,
				Evidence:      map[string]int{"X2": 0, "X1": 1},
				Likelihood:    0.5,
				LogLikelihood: math.Log(0.5),
				Beliefs:       map[string][]float64{"Z": {0.2, 0.8}, "A": {1, 0}},
			},
			{
				Step:       1,
				Evidence:   map[string]int{},
				Positives:  []string{"X1"},
				Restricted: true,
				Error:      "PRECONDITION_VIOLATION",
			},
		},
	}

	want := `{"scenario_name":"determinism_test","trace":[` +
		`{"beliefs":{"A":[1,0],"Z":[0.2,0.8]},"evidence":{"X1":1,"X2":0},"focused":0,"likelihood":0.5,"log_likelihood":-0.693147,"restricted":false,"step":0},` +
		`{"error":"PRECONDITION_VIOLATION","evidence":{},"focused":0,"positives":["X1"],"restricted":true,"step":1}]}`

	for i := 0; i < 5; i++ {
		got, err := GoldenBytes(snapshot.ScenarioName, &Result{Trace: snapshot.Trace})
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestRoundGolden(t *testing.T) {
	assert.Equal(t, 0.333333, roundGolden(1.0/3))
	assert.Equal(t, 1.0, roundGolden(0.9999999999999999))
	assert.Equal(t, 0.0, roundGolden(-1e-17))
	assert.Equal(t, -0.693147, roundGolden(math.Log(0.5)))
}
