package batch

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/latentrec/internal/feedback"
	"github.com/roach88/latentrec/internal/testutil"
)

func TestHardAssignMatchesFactors(t *testing.T) {
	m := testutil.MustModel(testutil.DeepSpec())
	rng := rand.New(rand.NewPCG(5, 6))
	cfg := newConfig(t, m, randomFeedback(rng, m, 25, 4), nil)
	cfg.Factors = m.Latents()
	cfg.Parallelism = 4

	asg, err := HardAssign(context.Background(), cfg)
	require.NoError(t, err)
	require.Empty(t, asg.Failures)
	require.Len(t, asg.States, cfg.Feedback.Entities())

	domain := cfg.leaves()
	eng := cfg.Session.NewEngine()
	for u, row := range asg.States {
		pos := cfg.positives(u)
		for k, id := range cfg.Factors {
			v := m.Variable(id)
			var want int
			if len(pos) == 0 {
				b, err := cfg.Session.BaselinePosterior(v)
				require.NoError(t, err)
				want = b.ArgMax()
			} else {
				require.NoError(t, eng.SetPositiveOnlyEvidence(pos, domain))
				_, err := eng.Propagate(context.Background())
				require.NoError(t, err)
				b, err := eng.Belief(v)
				require.NoError(t, err)
				want = b.ArgMax()
			}
			assert.Equal(t, want, row[k], "row %d factor %s", u, v.Name)
		}
	}

	for k, id := range cfg.Factors {
		require.Len(t, asg.Counts[k], m.Variable(id).Card)
		total := 0
		for _, c := range asg.Counts[k] {
			total += c
		}
		assert.Equal(t, cfg.Feedback.Entities(), total)
	}
}

func TestHardAssignFailedRows(t *testing.T) {
	m := testutil.MustModel(hardSpec())
	cfg := newConfig(t, m, []feedback.Record{
		{Entity: "a", Item: "X"},
		{Entity: "b", Item: "Y"},
	}, nil)
	cfg.Factors = []int{testutil.Var(m, "Z").ID}

	asg, err := HardAssign(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, asg.Failures, 1)
	assert.Equal(t, []int{-1}, asg.States[0])
	assert.Equal(t, []int{0}, asg.States[1])
	assert.Equal(t, []int{1, 0}, asg.Counts[0])
}
