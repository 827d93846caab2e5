package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/latentrec/internal/feedback"
)

// ErrNotFound is returned when a run or a factor row does not exist.
var ErrNotFound = errors.New("store: not found")

// ReadFeedback returns every feedback record ordered by entity, then item.
//
// Returns an empty slice (not nil) if the table is empty.
func (s *Store) ReadFeedback(ctx context.Context) ([]feedback.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, item_id, ts
		FROM feedback
		ORDER BY entity_id COLLATE BINARY ASC, item_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	records := []feedback.Record{}
	for rows.Next() {
		var r feedback.Record
		if err := rows.Scan(&r.Entity, &r.Item, &r.Time); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return records, nil
}

// ReadItemVariables returns the stored item to variable mappings.
func (s *Store) ReadItemVariables(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, variable FROM item_variables`)
	if err != nil {
		return nil, fmt.Errorf("query item variables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var item, variable string
		if err := rows.Scan(&item, &variable); err != nil {
			return nil, fmt.Errorf("scan item variable: %w", err)
		}
		out[item] = variable
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item variables: %w", err)
	}
	return out, nil
}

const runColumns = `id, model_name, model_hash, level, restricted, history, failures, created_seq, engine_version, ir_version`

// ReadRun returns the run with the given ID and its factor columns.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return s.scanRun(ctx, row)
}

// LatestRun returns the run with the highest created_seq.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	return s.scanRun(ctx, row)
}

// MaxRunSeq returns the highest created_seq, or 0 with no runs.
func (s *Store) MaxRunSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_seq) FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max run seq: %w", err)
	}
	return seq.Int64, nil
}

// ListRuns returns every run, newest first, without factor columns.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_seq DESC, id COLLATE BINARY DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.ModelName, &r.ModelHash, &r.Level, &r.Restricted,
			&r.HistorySize, &r.Failures, &r.Seq, &r.EngineVersion, &r.IRVersion); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// CountFactorRows returns the number of stored user and item rows of a run.
func (s *Store) CountFactorRows(ctx context.Context, runID string) (users, items int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT entity_id) FROM user_factors WHERE run_id = ?),
			(SELECT COUNT(DISTINCT item_id) FROM item_factors WHERE run_id = ?)
	`, runID, runID).Scan(&users, &items)
	if err != nil {
		return 0, 0, fmt.Errorf("count factor rows: %w", err)
	}
	return users, items, nil
}

func (s *Store) scanRun(ctx context.Context, row *sql.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.ModelName, &r.ModelHash, &r.Level, &r.Restricted,
		&r.HistorySize, &r.Failures, &r.Seq, &r.EngineVersion, &r.IRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, variable, normalization
		FROM run_factors
		WHERE run_id = ?
		ORDER BY position ASC
	`, r.ID)
	if err != nil {
		return Run{}, fmt.Errorf("query run factors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f RunFactor
		if err := rows.Scan(&f.Position, &f.Variable, &f.Normalization); err != nil {
			return Run{}, fmt.Errorf("scan run factor: %w", err)
		}
		r.Factors = append(r.Factors, f)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate run factors: %w", err)
	}
	return r, nil
}

// ReadUserFactors returns the factor row of one entity in a run.
func (s *Store) ReadUserFactors(ctx context.Context, runID, entity string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT factor, value
		FROM user_factors
		WHERE run_id = ? AND entity_id = ?
		ORDER BY factor ASC
	`, runID, entity)
	if err != nil {
		return nil, fmt.Errorf("query user factors: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var k int
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan user factor: %w", err)
		}
		if k != len(out) {
			return nil, fmt.Errorf("user factors of %s: missing factor %d", entity, len(out))
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user factors: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("user factors of %s in run %s: %w", entity, runID, ErrNotFound)
	}
	return out, nil
}

// ReadItemFactors returns every item factor row of a run, ordered by item
// ID. The matrix is nil when the run has no item factors.
func (s *Store) ReadItemFactors(ctx context.Context, runID string) ([]string, *mat.Dense, error) {
	var cols int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_factors WHERE run_id = ?`, runID).Scan(&cols); err != nil {
		return nil, nil, fmt.Errorf("count run factors: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, factor, value
		FROM item_factors
		WHERE run_id = ?
		ORDER BY item_id COLLATE BINARY ASC, factor ASC
	`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("query item factors: %w", err)
	}
	defer rows.Close()

	var ids []string
	var data []float64
	for rows.Next() {
		var id string
		var k int
		var v float64
		if err := rows.Scan(&id, &k, &v); err != nil {
			return nil, nil, fmt.Errorf("scan item factor: %w", err)
		}
		if len(ids) == 0 || ids[len(ids)-1] != id {
			ids = append(ids, id)
		}
		if k >= cols || len(data) != (len(ids)-1)*cols+k {
			return nil, nil, fmt.Errorf("item factors of %s: unexpected factor %d", id, k)
		}
		data = append(data, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate item factors: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	if len(data) != len(ids)*cols {
		return nil, nil, fmt.Errorf("item factors of run %s: incomplete rows", runID)
	}
	return ids, mat.NewDense(len(ids), cols, data), nil
}
