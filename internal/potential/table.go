package potential

import (
	"fmt"
	"slices"
)

func sameVar(a, b Variable) bool { return a.ID == b.ID }

func sortVars(vars []Variable) []Variable {
	sorted := slices.Clone(vars)
	slices.SortFunc(sorted, func(a, b Variable) int { return a.ID - b.ID })
	return sorted
}

func checkDistinct(vars []Variable) error {
	seen := make(map[int]bool, len(vars))
	for _, v := range vars {
		if v.Card < 1 {
			return fmt.Errorf("potential: variable %s has cardinality %d", v.Name, v.Card)
		}
		if seen[v.ID] {
			return fmt.Errorf("potential: variable %s repeated", v.Name)
		}
		seen[v.ID] = true
	}
	return nil
}

func tableSize(vars []Variable) int {
	n := 1
	for _, v := range vars {
		n *= v.Card
	}
	return n
}

// stridesOf returns row-major strides for vars in the given order.
func stridesOf(vars []Variable) []int {
	strides := make([]int, len(vars))
	s := 1
	for i := len(vars) - 1; i >= 0; i-- {
		strides[i] = s
		s *= vars[i].Card
	}
	return strides
}

// unionVars merges two ID-sorted variable lists.
func unionVars(a, b []Variable) []Variable {
	out := make([]Variable, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].ID < b[j].ID:
			out = append(out, a[i])
			i++
		case a[i].ID > b[j].ID:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// alignStrides returns, for every variable of full, the stride of that
// variable inside a table over sub, or 0 when sub does not contain it.
// subStrides overrides the strides of sub when given.
func alignStrides(sub, full []Variable, subStrides ...int) []int {
	if len(subStrides) == 0 {
		subStrides = stridesOf(sub)
	}
	out := make([]int, len(full))
	for i, v := range full {
		if j := slices.IndexFunc(sub, func(w Variable) bool { return w.ID == v.ID }); j >= 0 {
			out[i] = subStrides[j]
		}
	}
	return out
}

// walk visits every assignment of vars in row-major order. For each
// assignment fn receives the linear index k and, per operand, the offset
// computed from that operand's aligned strides plus its base offset.
func walk(vars []Variable, strides [][]int, base []int, fn func(k int, offs []int)) {
	offs := make([]int, len(strides))
	if base != nil {
		copy(offs, base)
	}
	counter := make([]int, len(vars))
	n := tableSize(vars)

	for k := 0; k < n; k++ {
		fn(k, offs)
		for d := len(vars) - 1; d >= 0; d-- {
			counter[d]++
			for o := range offs {
				offs[o] += strides[o][d]
			}
			if counter[d] < vars[d].Card {
				break
			}
			counter[d] = 0
			for o := range offs {
				offs[o] -= strides[o][d] * vars[d].Card
			}
		}
	}
}
