package testutil

import (
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// Enumerate visits every full assignment of m consistent with evidence
// (variable ID -> state) together with its joint probability. Intended for
// models with at most a few million assignments.
func Enumerate(m *ir.Model, evidence map[int]int, fn func(assignment []int, p float64)) {
	n := m.Len()
	asg := make([]int, n)
	var rec func(i int)
	rec = func(i int) {
		if i == n {
			p := 1.0
			for id := 0; id < n; id++ {
				node := m.Node(id)
				cell := map[int]int{id: asg[id]}
				if node.Parent >= 0 {
					cell[node.Parent] = asg[node.Parent]
				}
				v, err := node.CPT.Value(cell)
				if err != nil {
					panic(err)
				}
				p *= v
			}
			fn(asg, p)
			return
		}
		if s, ok := evidence[i]; ok && s != potential.Missing {
			asg[i] = s
			rec(i + 1)
			return
		}
		for s := 0; s < m.Variable(i).Card; s++ {
			asg[i] = s
			rec(i + 1)
		}
	}
	rec(0)
}

// Likelihood returns P(evidence) by enumeration.
func Likelihood(m *ir.Model, evidence map[int]int) float64 {
	total := 0.0
	Enumerate(m, evidence, func(_ []int, p float64) { total += p })
	return total
}

// Posterior returns P(v | evidence) by enumeration.
func Posterior(m *ir.Model, evidence map[int]int, v int) []float64 {
	out := make([]float64, m.Variable(v).Card)
	total := 0.0
	Enumerate(m, evidence, func(asg []int, p float64) {
		out[asg[v]] += p
		total += p
	})
	for i := range out {
		out[i] /= total
	}
	return out
}

// JointPosterior returns P(a, b | evidence) by enumeration, indexed
// [state of a][state of b].
func JointPosterior(m *ir.Model, evidence map[int]int, a, b int) [][]float64 {
	out := make([][]float64, m.Variable(a).Card)
	for i := range out {
		out[i] = make([]float64, m.Variable(b).Card)
	}
	total := 0.0
	Enumerate(m, evidence, func(asg []int, p float64) {
		out[asg[a]][asg[b]] += p
		total += p
	})
	for i := range out {
		for j := range out[i] {
			out[i][j] /= total
		}
	}
	return out
}
