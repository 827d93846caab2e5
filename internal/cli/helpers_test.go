package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// starCUE is a binary root over three leaves; X1=1 moves Z to [0.2, 0.8].
const starCUE = `model: Star: variables: {
	Z:  {states: 2, cpt: [[0.5, 0.5]]}
	X1: {states: 2, parent: "Z", cpt: [[0.8, 0.2], [0.2, 0.8]]}
	X2: {states: 2, parent: "Z", cpt: [[0.6, 0.4], [0.1, 0.9]]}
	X3: {states: 2, parent: "Z", cpt: [[0.9, 0.1], [0.3, 0.7]]}
}
`

// treeCUE has two top-level latents under a binary root, two leaves each.
const treeCUE = `model: Tree: variables: {
	R:  {states: 2, cpt: [[0.4, 0.6]]}
	A:  {states: 2, parent: "R", cpt: [[0.7, 0.3], [0.2, 0.8]]}
	B:  {states: 2, parent: "R", cpt: [[0.6, 0.4], [0.25, 0.75]]}
	X1: {states: 2, parent: "A", cpt: [[0.9, 0.1], [0.3, 0.7]]}
	X2: {states: 2, parent: "A", cpt: [[0.8, 0.2], [0.4, 0.6]]}
	X3: {states: 2, parent: "B", cpt: [[0.85, 0.15], [0.35, 0.65]]}
	X4: {states: 2, parent: "B", cpt: [[0.75, 0.25], [0.1, 0.9]]}
}
`

// feedbackTSV touches every leaf of treeCUE; dave's item is not a leaf.
const feedbackTSV = `# entity	item	timestamp
alice	X1	1
alice	X2	2
bob	X3	1
bob	X4	3
carol	X1	1
carol	X3	2
dave	other	1
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns its output.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse unmarshals a JSON response and its data into data.
func decodeResponse(t *testing.T, output string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &raw), output)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// fixture is a database with imported feedback and the tree model.
type fixture struct {
	dir   string
	db    string
	model string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:   dir,
		db:    filepath.Join(dir, "latentrec.db"),
		model: writeFile(t, dir, "tree.cue", treeCUE),
	}
	tsv := writeFile(t, dir, "feedback.tsv", feedbackTSV)

	_, err := execute(NewImportCommand(&RootOptions{Format: "text"}), tsv, "--db", f.db)
	require.NoError(t, err)
	return f
}

// computeRun runs the factors command and returns the new run ID.
func (f fixture) computeRun(t *testing.T, extra ...string) string {
	t.Helper()
	args := append([]string{"--db", f.db, "--model", f.model}, extra...)
	output, err := execute(NewFactorsCommand(&RootOptions{Format: "json"}), args...)
	require.NoError(t, err, output)

	var result FactorsResult
	resp := decodeResponse(t, output, &result)
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, result.RunID)
	return result.RunID
}
