package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/latentrec/internal/engine"
	"github.com/roach88/latentrec/internal/metrics"
	"github.com/roach88/latentrec/internal/potential"
)

// Assignment holds the most probable state of every factor per row.
type Assignment struct {
	// States[u][k] is the MAP state of factor k for row u, or -1 when the
	// row failed.
	States [][]int

	// Counts[k][s] is the number of successful rows assigned state s of
	// factor k.
	Counts [][]int

	Failures []RowFailure
}

type assignPartial struct {
	counts   [][]int
	failures []RowFailure
}

// HardAssign assigns every row the most probable state of each factor
// given the row's positives.
func HardAssign(ctx context.Context, cfg Config) (*Assignment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	baseline, err := cfg.baseline()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.DriverSeconds.WithLabelValues(DriverHardAssign).Observe(time.Since(start).Seconds())
	}()

	m := cfg.Session.Model()
	n := cfg.Feedback.Entities()
	newCounts := func() [][]int {
		c := make([][]int, len(cfg.Factors))
		for k, id := range cfg.Factors {
			c[k] = make([]int, m.Variable(id).Card)
		}
		return c
	}
	states := make([][]int, n)
	domain := cfg.leaves()

	leaf := func(lo, hi int) (assignPartial, error) {
		p := assignPartial{counts: newCounts()}
		eng, err := cfg.Pool.Take(ctx)
		if err != nil {
			return p, fmt.Errorf("%s: rows [%d,%d): %w", DriverHardAssign, lo, hi, err)
		}
		defer cfg.Pool.Put(eng)
		eng.ResetAll()

		for u := lo; u < hi; u++ {
			row := make([]int, len(cfg.Factors))
			err := cfg.query(ctx, eng, cfg.positives(u), domain, baseline, func(k int, b *potential.Potential) {
				row[k] = b.ArgMax()
			})
			metrics.DriverRows.WithLabelValues(DriverHardAssign).Inc()
			if engine.IsInterrupted(err) {
				return p, fmt.Errorf("%s: row %d: %w", DriverHardAssign, u, err)
			}
			if err != nil {
				p.failures = append(p.failures, cfg.fail(DriverHardAssign, u, err))
				eng.ResetAll()
				for k := range row {
					row[k] = -1
				}
				states[u] = row
				continue
			}
			states[u] = row
			for k, s := range row {
				p.counts[k][s]++
			}
		}
		return p, nil
	}
	merge := func(left, right assignPartial) assignPartial {
		for k := range left.counts {
			for s := range left.counts[k] {
				left.counts[k][s] += right.counts[k][s]
			}
		}
		left.failures = append(left.failures, right.failures...)
		return left
	}

	total, err := forkJoin(DriverHardAssign, n, cfg.Parallelism, leaf, merge)
	if err != nil {
		return nil, err
	}
	return &Assignment{States: states, Counts: total.counts, Failures: total.failures}, nil
}
