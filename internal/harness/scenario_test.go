package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestModel writes the star model into dir/models and returns its path.
func createTestModel(t *testing.T, dir string) string {
	t.Helper()
	modelsDir := filepath.Join(dir, "models")
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(modelsDir, "star.cue")
	if err := os.WriteFile(path, []byte(starModel), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const starModel = `
model: Star: variables: {
	Z:  {states: 2, cpt: [[0.5, 0.5]]}
	X1: {states: 2, parent: "Z", cpt: [[0.8, 0.2], [0.2, 0.8]]}
	X2: {states: 2, parent: "Z", cpt: [[0.6, 0.4], [0.1, 0.9]]}
}
`

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := createTestModel(t, dir)

	path := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
model: models/star.cue
top_level: [Z]
steps:
  - evidence: {X1: 1}
    expect:
      likelihood: 0.5
      beliefs:
        Z: [0.2, 0.8]
  - positives: [X2]
    restricted: true
    query: [Z]
assertions:
  - type: focused_count
    step: 1
    count: 4
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, modelPath, scenario.Model)
	assert.Equal(t, []string{"Z"}, scenario.TopLevel)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, map[string]int{"X1": 1}, scenario.Steps[0].Evidence)
	require.NotNil(t, scenario.Steps[0].Expect)
	require.NotNil(t, scenario.Steps[0].Expect.Likelihood)
	assert.Equal(t, 0.5, *scenario.Steps[0].Expect.Likelihood)
	assert.Equal(t, []float64{0.2, 0.8}, scenario.Steps[0].Expect.Beliefs["Z"])
	assert.True(t, scenario.Steps[1].Restricted)
	assert.Equal(t, []string{"X2"}, scenario.Steps[1].Positives)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertFocusedCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nmodel: models/star.cue\nsteps:\n  - evidence: {X1: 1}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nmodel: models/star.cue\nsteps:\n  - evidence: {X1: 1}\n",
			wantErr: "description is required",
		},
		{
			name:    "missing model",
			content: "name: n\ndescription: d\nsteps:\n  - evidence: {X1: 1}\n",
			wantErr: "model is required",
		},
		{
			name:    "model not found",
			content: "name: n\ndescription: d\nmodel: models/none.cue\nsteps:\n  - evidence: {X1: 1}\n",
			wantErr: "model file not found",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\nmodel: models/star.cue\n",
			wantErr: "steps list is required",
		},
		{
			name:    "evidence and positives",
			content: "name: n\ndescription: d\nmodel: models/star.cue\nsteps:\n  - evidence: {X1: 1}\n    positives: [X2]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "restricted without top level",
			content: "name: n\ndescription: d\nmodel: models/star.cue\nsteps:\n  - positives: [X2]\n    restricted: true\n",
			wantErr: "restricted steps require top_level",
		},
		{
			name:    "negative tolerance",
			content: "name: n\ndescription: d\nmodel: models/star.cue\nsteps:\n  - expect:\n      tolerance: -1\n",
			wantErr: "tolerance must be non-negative",
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nmodel: models/star.cue\nstep:\n  - evidence: {X1: 1}\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "malformed yaml",
			content: "name: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			createTestModel(t, dir)
			_, err := LoadScenario(writeScenario(t, dir, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_AssertionValidation(t *testing.T) {
	header := "name: n\ndescription: d\nmodel: models/star.cue\nsteps:\n  - evidence: {X1: 1}\n  - evidence: {X1: 0}\nassertions:\n"
	tests := []struct {
		name      string
		assertion string
		wantErr   string
	}{
		{"missing type", "  - step: 0\n", "type is required"},
		{"unknown type", "  - type: trace_contains\n", "unknown assertion type"},
		{"beliefs_equal one step", "  - type: beliefs_equal\n    steps: [0]\n    variables: [Z]\n", "at least two steps"},
		{"beliefs_equal no variables", "  - type: beliefs_equal\n    steps: [0, 1]\n", "variables list is required"},
		{"likelihood_equal out of range", "  - type: likelihood_equal\n    steps: [0, 2]\n", "step 2 out of range"},
		{"focused_count out of range", "  - type: focused_count\n    step: 5\n", "step 5 out of range"},
		{"focused_count negative", "  - type: focused_count\n    step: 0\n    count: -1\n", "count must be non-negative"},
		{"out_of_scope no variables", "  - type: out_of_scope\n    step: 0\n", "variables list is required"},
		{"negative tolerance", "  - type: likelihood_equal\n    steps: [0, 1]\n    tolerance: -0.1\n", "tolerance must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			createTestModel(t, dir)
			_, err := LoadScenario(writeScenario(t, dir, header+tt.assertion))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	modelPath := createTestModel(t, dir)

	scenarioDir := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarioDir, 0755))
	path := filepath.Join(scenarioDir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: based
description: "Model path resolved against an explicit base"
model: models/star.cue
steps:
  - evidence: {X1: 1}
`), 0644))

	scenario, err := LoadScenarioWithBasePath(path, dir)
	require.NoError(t, err)
	assert.Equal(t, modelPath, scenario.Model)

	// Relative to the scenario file the model does not exist.
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "model file not found")
}

func TestLoadScenarioWithBasePath_AbsoluteModelPath(t *testing.T) {
	dir := t.TempDir()
	modelPath := createTestModel(t, dir)

	path := writeScenario(t, dir, `
name: absolute
description: "Absolute model paths are kept"
model: `+modelPath+`
steps:
  - evidence: {X1: 1}
`)
	scenario, err := LoadScenarioWithBasePath(path, "/somewhere/else")
	require.NoError(t, err)
	assert.Equal(t, modelPath, scenario.Model)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "beliefs_equal", AssertBeliefsEqual)
	assert.Equal(t, "likelihood_equal", AssertLikelihoodEqual)
	assert.Equal(t, "focused_count", AssertFocusedCount)
	assert.Equal(t, "out_of_scope", AssertOutOfScope)
}

func TestLoadExampleScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Steps)
		})
	}
}
