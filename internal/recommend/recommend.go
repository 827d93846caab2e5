// Package recommend ranks items for a user from factor matrices.
package recommend

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Scored is one ranked item.
type Scored struct {
	Item  int
	Score float64
}

// Scores returns the dot product of user with every row of items.
func Scores(user []float64, items *mat.Dense) ([]float64, error) {
	r, c := items.Dims()
	if len(user) != c {
		return nil, fmt.Errorf("recommend: user has %d factors, items have %d", len(user), c)
	}
	out := make([]float64, r)
	for i := range out {
		out[i] = vek.Dot(user, items.RawRowView(i))
	}
	return out, nil
}

// TopN returns the n best-scoring items, highest first, skipping items for
// which seen reports true. Ties go to the lower item index. NaN scores are
// never returned.
func TopN(user []float64, items *mat.Dense, n int, seen func(item int) bool) ([]Scored, error) {
	scores, err := Scores(user, items)
	if err != nil {
		return nil, err
	}
	ranked := make([]Scored, 0, len(scores))
	for i, s := range scores {
		if s != s || (seen != nil && seen(i)) {
			continue
		}
		ranked = append(ranked, Scored{Item: i, Score: s})
	}
	slices.SortFunc(ranked, func(a, b Scored) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.Item, b.Item))
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}
