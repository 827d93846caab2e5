package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeliefStarEvidence(t *testing.T) {
	model := writeFile(t, t.TempDir(), "star.cue", starCUE)

	output, err := execute(NewBeliefCommand(&RootOptions{Format: "json"}), "--model", model, "--evidence", `{"X1":1}`)
	require.NoError(t, err, output)

	var result BeliefResult
	resp := decodeResponse(t, output, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Star", result.Model)
	assert.InDelta(t, 0.5, result.Likelihood, 1e-12)
	require.Contains(t, result.Beliefs, "Z")
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, result.Beliefs["Z"], 1e-12)
	assert.Empty(t, result.OutOfScope)
}

func TestBeliefTextOutput(t *testing.T) {
	model := writeFile(t, t.TempDir(), "star.cue", starCUE)

	output, err := execute(NewBeliefCommand(&RootOptions{Format: "text"}), "--model", model, "--evidence", `{"X1":1}`, "--query", "Z,X2")
	require.NoError(t, err)
	assert.Contains(t, output, "Model Star")
	assert.Contains(t, output, "[0.200000 0.800000]")
	assert.Contains(t, output, "X2")
}

func TestBeliefNoEvidenceGivesPriors(t *testing.T) {
	model := writeFile(t, t.TempDir(), "tree.cue", treeCUE)

	output, err := execute(NewBeliefCommand(&RootOptions{Format: "json"}), "--model", model)
	require.NoError(t, err)

	var result BeliefResult
	decodeResponse(t, output, &result)
	assert.InDelta(t, 1.0, result.Likelihood, 1e-12)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, result.Beliefs["R"], 1e-12)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, result.Beliefs["A"], 1e-12)
	assert.InDeltaSlice(t, []float64{0.39, 0.61}, result.Beliefs["B"], 1e-12)
}

func TestBeliefRestrictedPositives(t *testing.T) {
	model := writeFile(t, t.TempDir(), "tree.cue", treeCUE)

	full, err := execute(NewBeliefCommand(&RootOptions{Format: "json"}), "--model", model, "--positives", "X1")
	require.NoError(t, err)
	restricted, err := execute(NewBeliefCommand(&RootOptions{Format: "json"}), "--model", model, "--positives", "X1", "--restricted")
	require.NoError(t, err)

	var a, b BeliefResult
	decodeResponse(t, full, &a)
	decodeResponse(t, restricted, &b)

	assert.Equal(t, 6, b.Focused)
	assert.Equal(t, []string{"B"}, b.OutOfScope)
	assert.InDelta(t, a.Likelihood, b.Likelihood, 1e-12)
	assert.InDeltaSlice(t, a.Beliefs["A"], b.Beliefs["A"], 1e-12)
	assert.InDeltaSlice(t, a.Beliefs["R"], b.Beliefs["R"], 1e-12)
	assert.NotContains(t, b.Beliefs, "B")
}

func TestBeliefFamily(t *testing.T) {
	model := writeFile(t, t.TempDir(), "star.cue", starCUE)

	output, err := execute(NewBeliefCommand(&RootOptions{Format: "json"}), "--model", model, "--evidence", `{"X1":1}`, "--family", "X1")
	require.NoError(t, err)

	var result BeliefResult
	decodeResponse(t, output, &result)
	require.Contains(t, result.Families, "X1")
	fp := result.Families["X1"]
	assert.Equal(t, []string{"Z", "X1"}, fp.Variables)
	// X1 is observed in state 1: P(Z=0, X1=1) = 0.2, P(Z=1, X1=1) = 0.8.
	assert.InDeltaSlice(t, []float64{0, 0.2, 0, 0.8}, fp.Cells, 1e-12)
}

func TestBeliefErrors(t *testing.T) {
	model := writeFile(t, t.TempDir(), "star.cue", starCUE)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown variable", []string{"--evidence", `{"X9":1}`}, ExitFailure, "PRECONDITION_VIOLATION"},
		{"state out of range", []string{"--evidence", `{"X1":2}`}, ExitFailure, "PRECONDITION_VIOLATION"},
		{"bad json", []string{"--evidence", `{X1:1}`}, ExitCommandError, "invalid --evidence JSON"},
		{"unknown query", []string{"--query", "Nope"}, ExitFailure, "PRECONDITION_VIOLATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--model", model}, tt.args...)
			output, err := execute(NewBeliefCommand(&RootOptions{Format: "text"}), args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, output, tt.want)
		})
	}
}

func TestBeliefEvidenceAndPositivesExclusive(t *testing.T) {
	model := writeFile(t, t.TempDir(), "star.cue", starCUE)

	_, err := execute(NewBeliefCommand(&RootOptions{Format: "text"}), "--model", model, "--evidence", `{"X1":1}`, "--positives", "X2")
	require.Error(t, err)
}
