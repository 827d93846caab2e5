package batch

import (
	"log/slog"
	"math/bits"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// leafSize returns the largest range a leaf task handles: n split evenly
// over 2^floor(log2(parallelism)) tasks, rounded up.
func leafSize(n, parallelism int) int {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	tasks := 1 << (bits.Len(uint(parallelism)) - 1)
	size := (n + tasks - 1) / tasks
	return max(size, 1)
}

// forkJoin bisects [0,n) until ranges fit leafSize, runs leaf on each range
// in its own goroutine and merges sibling results left to right. A leaf
// error fails its ancestors but does not cancel siblings.
func forkJoin[P any](driver string, n, parallelism int, leaf func(lo, hi int) (P, error), merge func(left, right P) P) (P, error) {
	threshold := leafSize(n, parallelism)

	var run func(lo, hi int) (P, error)
	run = func(lo, hi int) (P, error) {
		if hi-lo <= threshold {
			slog.Debug("leaf task", "driver", driver, "lo", lo, "hi", hi)
			return leaf(lo, hi)
		}
		mid := lo + (hi-lo)/2

		var left, right P
		var g errgroup.Group
		g.Go(func() error {
			var err error
			left, err = run(lo, mid)
			return err
		})
		g.Go(func() error {
			var err error
			right, err = run(mid, hi)
			return err
		})
		if err := g.Wait(); err != nil {
			var zero P
			return zero, err
		}
		return merge(left, right), nil
	}
	return run(0, n)
}
