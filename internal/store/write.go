package store

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/latentrec/internal/feedback"
)

// Run describes one stored factor computation.
type Run struct {
	ID            string
	ModelName     string
	ModelHash     string
	Level         int
	Restricted    bool
	HistorySize   int
	Failures      int
	Seq           int64
	EngineVersion string
	IRVersion     string
	Factors       []RunFactor
}

// RunFactor is one factor column of a run.
type RunFactor struct {
	Position      int
	Variable      string
	Normalization float64
}

// WriteFeedback inserts feedback records. A repeated (entity, item) pair
// keeps the latest timestamp. Returns the number of records written.
func (s *Store) WriteFeedback(ctx context.Context, records []feedback.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write feedback: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feedback (entity_id, item_id, ts)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id, item_id) DO UPDATE SET ts = max(ts, excluded.ts)
	`)
	if err != nil {
		return 0, fmt.Errorf("write feedback: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Entity == "" || r.Item == "" {
			return 0, fmt.Errorf("write feedback: empty entity or item in %+v", r)
		}
		if _, err := stmt.ExecContext(ctx, r.Entity, r.Item, r.Time); err != nil {
			return 0, fmt.Errorf("write feedback: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write feedback: commit: %w", err)
	}
	return len(records), nil
}

// WriteItemVariables stores item to variable mappings, replacing existing
// mappings of the same items.
func (s *Store) WriteItemVariables(ctx context.Context, mapping map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write item variables: begin tx: %w", err)
	}
	defer tx.Rollback()

	for item, variable := range mapping {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_variables (item_id, variable)
			VALUES (?, ?)
			ON CONFLICT(item_id) DO UPDATE SET variable = excluded.variable
		`, item, variable)
		if err != nil {
			return fmt.Errorf("write item variables: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write item variables: commit: %w", err)
	}
	return nil
}

// WriteRun inserts a run record and its factor columns.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - rewriting a run ID is
// silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	for _, f := range run.Factors {
		if math.IsNaN(f.Normalization) || math.IsInf(f.Normalization, 0) {
			return fmt.Errorf("write run %s: factor %s has normalization %v", run.ID, f.Variable, f.Normalization)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, model_name, model_hash, level, restricted, history, failures, created_seq, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.ModelName,
		run.ModelHash,
		run.Level,
		run.Restricted,
		run.HistorySize,
		run.Failures,
		run.Seq,
		run.EngineVersion,
		run.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("write run: rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	for _, f := range run.Factors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_factors (run_id, position, variable, normalization)
			VALUES (?, ?, ?, ?)
		`, run.ID, f.Position, f.Variable, f.Normalization)
		if err != nil {
			return fmt.Errorf("write run factor %d: %w", f.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// WriteUserFactors stores row i of factors under ids[i] for the run.
// Rows containing NaN are skipped. Returns the number of rows written.
//
// Note: The run must exist (foreign key constraint).
func (s *Store) WriteUserFactors(ctx context.Context, runID string, ids []string, factors *mat.Dense) (int, error) {
	return s.writeFactors(ctx, "user_factors", "entity_id", runID, ids, factors)
}

// WriteItemFactors stores row i of factors under ids[i] for the run.
// Rows containing NaN are skipped. Returns the number of rows written.
func (s *Store) WriteItemFactors(ctx context.Context, runID string, ids []string, factors *mat.Dense) (int, error) {
	return s.writeFactors(ctx, "item_factors", "item_id", runID, ids, factors)
}

func (s *Store) writeFactors(ctx context.Context, table, key, runID string, ids []string, factors *mat.Dense) (int, error) {
	if factors == nil {
		return 0, nil
	}
	rows, cols := factors.Dims()
	if rows != len(ids) {
		return 0, fmt.Errorf("write %s: %d ids for %d rows", table, len(ids), rows)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write %s: begin tx: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (run_id, %s, factor, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, table, key))
	if err != nil {
		return 0, fmt.Errorf("write %s: prepare: %w", table, err)
	}
	defer stmt.Close()

	written := 0
	for i, id := range ids {
		row := factors.RawRowView(i)
		if hasNaN(row) {
			continue
		}
		for k := 0; k < cols; k++ {
			if _, err := stmt.ExecContext(ctx, runID, id, k, row[k]); err != nil {
				return 0, fmt.Errorf("write %s %s: %w", table, id, err)
			}
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write %s: commit: %w", table, err)
	}
	return written, nil
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
