package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/latentrec/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run with two factor columns.
func createTestRun(id string, seq int64) Run {
	return Run{
		ID:            id,
		ModelName:     "star",
		ModelHash:     "test-hash",
		Level:         1,
		Seq:           seq,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.FormatVersion,
		Factors: []RunFactor{
			{Position: 0, Variable: "A", Normalization: 1.5},
			{Position: 1, Variable: "B", Normalization: 0.25},
		},
	}
}
