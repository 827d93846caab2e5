package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const starScenario = `name: star_evidence
description: "One observed leaf moves the root"
model: models/star.cue
steps:
  - evidence: {X1: 1}
    expect:
      likelihood: 0.5
      beliefs:
        Z: [0.2, 0.8]
`

const failingScenario = `name: star_wrong
description: "Expects the wrong posterior"
model: models/star.cue
steps:
  - evidence: {X1: 1}
    expect:
      beliefs:
        Z: [0.5, 0.5]
`

func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "models/star.cue", starCUE)
	for name, content := range scenarios {
		writeFile(t, dir, name, content)
	}
	return dir
}

func TestTestCommandPasses(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"star_evidence.yaml": starScenario})

	output, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err, output)
	assert.Contains(t, output, "✓ star_evidence")
	assert.Contains(t, output, "1 passed, 0 failed, 1 total")
}

func TestTestCommandFailure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"star_evidence.yaml": starScenario,
		"star_wrong.yaml":    failingScenario,
	})

	output, err := execute(NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	resp := decodeResponse(t, output, &result)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"star_evidence.yaml": starScenario,
		"star_wrong.yaml":    failingScenario,
	})

	output, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir, "--filter", "*_evidence")
	require.NoError(t, err)
	assert.Contains(t, output, "1 passed, 0 failed, 1 total")
}

func TestTestCommandGoldenFiles(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"star_evidence.yaml": starScenario})
	golden := filepath.Join(dir, "golden", "star_evidence.golden")

	output, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir, "--update")
	require.NoError(t, err, output)
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"star_evidence"`)

	// A matching golden file passes.
	_, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)

	// A stale golden file fails.
	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"star_evidence","trace":[]}`), 0644))
	output, err = execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, output, "trace does not match golden file")
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("harness scenarios not found")
	}

	output, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err, output)
	assert.Contains(t, output, "0 failed")
}

func TestTestCommandMissingDirectory(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandBadScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken.yaml": "name: broken\nstep: []\n"})

	output, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, output, "✗ broken.yaml")
	assert.Contains(t, output, "failed to load scenario")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "tree.golden"), goldenFilePath(filepath.Join("s", "tree.yaml")))
}
