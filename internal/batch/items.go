package batch

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/latentrec/internal/feedback"
	"github.com/roach88/latentrec/internal/metrics"
)

// ItemFactors derives item factors from user factors: the factor k of item
// i is the sum of factor k over the users that touched i, divided by the
// normalization of factor k. Failed user rows are skipped. Factors with a
// zero normalization yield 0.
func ItemFactors(ctx context.Context, users *Result, fb *feedback.Matrix, parallelism int) (*Result, error) {
	if users == nil || fb == nil {
		return nil, fmt.Errorf("%w: item factors need user factors and feedback", ErrInvalidConfig)
	}
	if users.Factors != nil {
		if r, _ := users.Factors.Dims(); r != fb.Entities() {
			return nil, fmt.Errorf("%w: %d user rows for %d entities", ErrInvalidConfig, r, fb.Entities())
		}
	}
	start := time.Now()
	defer func() {
		metrics.DriverSeconds.WithLabelValues(DriverItemFactors).Observe(time.Since(start).Seconds())
	}()

	kf := len(users.Normalization)
	n := fb.Items()
	res := &Result{Normalization: make([]float64, kf)}
	if n == 0 || kf == 0 || users.Factors == nil {
		return res, nil
	}

	failed := failedRows(fb.Entities(), users.Failures)
	out := mat.NewDense(n, kf, nil)

	leaf := func(lo, hi int) (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, fmt.Errorf("%s: items [%d,%d): %w", DriverItemFactors, lo, hi, err)
		}
		row := make([]float64, kf)
		for i := lo; i < hi; i++ {
			clear(row)
			for _, u := range fb.Consumers(i) {
				if failed[u] {
					continue
				}
				for k := range row {
					row[k] += users.Factors.At(u, k)
				}
			}
			for k, z := range users.Normalization {
				if z != 0 {
					row[k] /= z
				} else {
					row[k] = 0
				}
			}
			out.SetRow(i, row)
			metrics.DriverRows.WithLabelValues(DriverItemFactors).Inc()
		}
		return struct{}{}, nil
	}
	merge := func(struct{}, struct{}) struct{} { return struct{}{} }

	if _, err := forkJoin(DriverItemFactors, n, parallelism, leaf, merge); err != nil {
		return nil, err
	}
	res.Factors = out
	res.Normalization = columnSums(out, make([]bool, n))
	return res, nil
}
