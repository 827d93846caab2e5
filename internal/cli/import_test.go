package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/latentrec/internal/store"
)

func TestImportFeedback(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "latentrec.db")
	tsv := writeFile(t, dir, "feedback.tsv", feedbackTSV)

	output, err := execute(NewImportCommand(&RootOptions{Format: "text"}), tsv, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Imported 7 record(s)")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	records, err := st.ReadFeedback(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 7)
}

func TestImportItemMapping(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "latentrec.db")
	tsv := writeFile(t, dir, "feedback.tsv", "alice\tmovie-1\nbob\tmovie-2\t5\n")
	items := writeFile(t, dir, "items.tsv", "movie-1\tX1\nmovie-2\tX3\n")

	output, err := execute(NewImportCommand(&RootOptions{Format: "json"}), tsv, "--db", db, "--items", items)
	require.NoError(t, err)

	var result ImportResult
	resp := decodeResponse(t, output, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Records)
	assert.Equal(t, 2, result.ItemVariables)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	mapping, err := st.ReadItemVariables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"movie-1": "X1", "movie-2": "X3"}, mapping)
}

func TestImportRejectsBadLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"one field", "alice\n", "feedback.tsv:1:"},
		{"bad timestamp", "alice\tX1\tyesterday\n", "invalid timestamp"},
		{"too many fields", "# header\nalice\tX1\t1\textra\n", "feedback.tsv:2:"},
		{"only comments", "# nothing here\n", "no feedback records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tsv := writeFile(t, dir, "feedback.tsv", tt.content)

			output, err := execute(NewImportCommand(&RootOptions{Format: "text"}), tsv, "--db", filepath.Join(dir, "x.db"))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, output, tt.want)
		})
	}
}

func TestImportMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(NewImportCommand(&RootOptions{Format: "text"}), filepath.Join(dir, "missing.tsv"), "--db", filepath.Join(dir, "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
