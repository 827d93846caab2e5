// Package batch applies the inference engine to a whole population.
//
// Every driver bisects its rows into 2^floor(log2(P)) leaf tasks joined
// with errgroup. A leaf task takes one engine from the pool for its whole
// range and writes only its own rows of the output, so the output does not
// depend on P. Per-row inference failures do not abort the run: the row is
// filled with NaN and listed in Result.Failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/roach88/latentrec/internal/engine"
	"github.com/roach88/latentrec/internal/feedback"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/metrics"
	"github.com/roach88/latentrec/internal/pool"
	"github.com/roach88/latentrec/internal/potential"
)

// Driver names used in logs and metrics.
const (
	DriverUserFactors = "user_factors"
	DriverItemFactors = "item_factors"
	DriverHardAssign  = "hard_assign"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("batch: invalid config")

// Config describes one inference run over the rows of a feedback matrix.
type Config struct {
	Session  *engine.Session
	Pool     *pool.Group[*engine.Engine]
	Feedback *feedback.Matrix

	// Items maps each feedback column to a leaf variable ID, or -1 for
	// items outside the model. See ItemVariables.
	Items []int

	// Factors lists the latent variable IDs, one output column each.
	Factors []int

	// Parallelism bounds the number of leaf tasks. 0 selects GOMAXPROCS.
	Parallelism int

	// Restricted confines each propagation to the range found from the
	// row's positive evidence. Factors outside the range take their
	// baseline posterior.
	Restricted bool

	// HistorySize keeps only each row's latest entries. 0 keeps all.
	HistorySize int
}

// RowFailure records a row a driver could not compute.
type RowFailure struct {
	Row int
	ID  string
	Err error
}

func (f RowFailure) Error() string {
	return fmt.Sprintf("row %d (%s): %v", f.Row, f.ID, f.Err)
}

func (f RowFailure) Unwrap() error { return f.Err }

// Result is the output of UserFactors and ItemFactors.
type Result struct {
	// Factors has one row per entity and one column per factor. It is nil
	// when there are no rows.
	Factors *mat.Dense

	// Normalization holds the per-factor column sums over successful rows,
	// added in row order.
	Normalization []float64

	// Failures lists failed rows in row order.
	Failures []RowFailure
}

// Failed reports whether row u failed.
func (r *Result) Failed(u int) bool {
	for _, f := range r.Failures {
		if f.Row == u {
			return true
		}
	}
	return false
}

// ItemVariables maps every feedback column to a leaf of m. Items are
// matched through mapping when present and by variable name otherwise;
// items matching no leaf map to -1.
func ItemVariables(m *ir.Model, fb *feedback.Matrix, mapping map[string]string) []int {
	out := make([]int, fb.Items())
	for i := range out {
		out[i] = -1
		name := fb.ItemID(i)
		if v, ok := mapping[name]; ok {
			name = v
		}
		if id, ok := m.Lookup(name); ok && m.IsLeaf(id) {
			out[i] = id
		}
	}
	return out
}

func (c *Config) validate() error {
	switch {
	case c.Session == nil:
		return fmt.Errorf("%w: no session", ErrInvalidConfig)
	case c.Pool == nil:
		return fmt.Errorf("%w: no engine pool", ErrInvalidConfig)
	case c.Feedback == nil:
		return fmt.Errorf("%w: no feedback", ErrInvalidConfig)
	case len(c.Factors) == 0:
		return fmt.Errorf("%w: no factor variables", ErrInvalidConfig)
	case len(c.Items) != c.Feedback.Items():
		return fmt.Errorf("%w: %d item mappings for %d items", ErrInvalidConfig, len(c.Items), c.Feedback.Items())
	case c.Restricted && !c.Session.Restricted():
		return fmt.Errorf("%w: restricted run on a session without top-level variables", ErrInvalidConfig)
	case c.HistorySize < 0:
		return fmt.Errorf("%w: negative history size %d", ErrInvalidConfig, c.HistorySize)
	}
	m := c.Session.Model()
	for _, id := range c.Factors {
		if id < 0 || id >= m.Len() || m.IsLeaf(id) {
			return fmt.Errorf("%w: factor %d is not a latent variable", ErrInvalidConfig, id)
		}
	}
	for i, id := range c.Items {
		if id != -1 && (id < 0 || id >= m.Len() || !m.IsLeaf(id)) {
			return fmt.Errorf("%w: item %q maps to non-leaf %d", ErrInvalidConfig, c.Feedback.ItemID(i), id)
		}
	}
	return nil
}

// positives returns the in-model leaves of row u, without repeats.
func (c *Config) positives(u int) []potential.Variable {
	m := c.Session.Model()
	var out []potential.Variable
	seen := make(map[int]bool)
	for _, it := range c.Feedback.Recent(u, c.HistorySize) {
		id := c.Items[it]
		if id < 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m.Variable(id))
	}
	return out
}

func (c *Config) leaves() []potential.Variable {
	m := c.Session.Model()
	ids := m.Leaves()
	out := make([]potential.Variable, len(ids))
	for i, id := range ids {
		out[i] = m.Variable(id)
	}
	return out
}

// baseline returns the baseline posterior of every factor.
func (c *Config) baseline() ([]*potential.Potential, error) {
	m := c.Session.Model()
	out := make([]*potential.Potential, len(c.Factors))
	for k, id := range c.Factors {
		b, err := c.Session.BaselinePosterior(m.Variable(id))
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return out, nil
}

// query runs one row's inference on eng and calls read with each factor's
// posterior. It leaves eng ready for the next row.
func (c *Config) query(ctx context.Context, eng *engine.Engine, pos, domain []potential.Variable, baseline []*potential.Potential, read func(k int, b *potential.Potential)) error {
	if len(pos) == 0 {
		for k, b := range baseline {
			read(k, b)
		}
		return nil
	}

	if err := eng.SetPositiveOnlyEvidence(pos, domain); err != nil {
		return err
	}
	if c.Restricted {
		cliques, err := eng.FindAndSetPropagationRange()
		if err != nil {
			return err
		}
		defer eng.ResetMessages(cliques)
	}
	if _, err := eng.Propagate(ctx); err != nil {
		return err
	}

	m := c.Session.Model()
	for k, id := range c.Factors {
		v := m.Variable(id)
		if c.Restricted && !eng.InScope(v) {
			read(k, baseline[k])
			continue
		}
		b, err := eng.Belief(v)
		if err != nil {
			return err
		}
		read(k, b)
	}
	return nil
}

func mergeFailures(left, right []RowFailure) []RowFailure {
	return append(left, right...)
}

// columnSums adds up the rows of m not marked in skip, in row order, so
// the sums are the same for every partition of the rows.
func columnSums(m *mat.Dense, skip []bool) []float64 {
	r, c := m.Dims()
	sums := make([]float64, c)
	for u := 0; u < r; u++ {
		if skip[u] {
			continue
		}
		floats.Add(sums, m.RawRowView(u))
	}
	return sums
}

func failedRows(n int, failures []RowFailure) []bool {
	failed := make([]bool, n)
	for _, f := range failures {
		failed[f.Row] = true
	}
	return failed
}

// UserFactors computes P(factor = 1 | row's positives) for every row of
// the feedback matrix and every factor. Rows with no in-model positives
// take the baseline posteriors.
//
// The error is non-nil only for invalid configs and for runs aborted by
// ctx; row-level inference failures are reported in Result.Failures.
func UserFactors(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	baseline, err := cfg.baseline()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.DriverSeconds.WithLabelValues(DriverUserFactors).Observe(time.Since(start).Seconds())
	}()

	n, kf := cfg.Feedback.Entities(), len(cfg.Factors)
	res := &Result{Normalization: make([]float64, kf)}
	if n == 0 {
		return res, nil
	}
	out := mat.NewDense(n, kf, nil)
	domain := cfg.leaves()

	leaf := func(lo, hi int) ([]RowFailure, error) {
		var failures []RowFailure
		eng, err := cfg.Pool.Take(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: rows [%d,%d): %w", DriverUserFactors, lo, hi, err)
		}
		defer cfg.Pool.Put(eng)
		eng.ResetAll()

		row := make([]float64, kf)
		for u := lo; u < hi; u++ {
			err := cfg.query(ctx, eng, cfg.positives(u), domain, baseline, func(k int, b *potential.Potential) {
				row[k] = b.Cell(1)
			})
			metrics.DriverRows.WithLabelValues(DriverUserFactors).Inc()
			if engine.IsInterrupted(err) {
				return failures, fmt.Errorf("%s: row %d: %w", DriverUserFactors, u, err)
			}
			if err != nil {
				failures = append(failures, cfg.fail(DriverUserFactors, u, err))
				eng.ResetAll()
				for k := range row {
					row[k] = math.NaN()
				}
				out.SetRow(u, row)
				continue
			}
			out.SetRow(u, row)
		}
		return failures, nil
	}

	failures, err := forkJoin(DriverUserFactors, n, cfg.Parallelism, leaf, mergeFailures)
	if err != nil {
		return nil, err
	}
	res.Factors = out
	res.Normalization = columnSums(out, failedRows(n, failures))
	res.Failures = failures
	return res, nil
}

func (c *Config) fail(driver string, u int, err error) RowFailure {
	f := RowFailure{Row: u, ID: c.Feedback.EntityID(u), Err: err}
	metrics.DriverRowFailures.WithLabelValues(driver).Inc()
	slog.Warn("row failed",
		"driver", driver,
		"row", u,
		"entity", f.ID,
		"code", string(engine.CodeOf(err)),
		"error", err,
	)
	return f
}
