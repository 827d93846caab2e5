package potential

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Potential is an immutable table of non-negative reals indexed by a set of
// variables.
type Potential struct {
	vars  []Variable // sorted by ID
	cells []float64
}

// Identity returns the scalar potential 1.
func Identity() *Potential {
	return &Potential{cells: []float64{1}}
}

// Ones returns a potential over vars with every cell set to 1.
func Ones(vars ...Variable) *Potential {
	sorted := sortVars(vars)
	cells := make([]float64, tableSize(sorted))
	for i := range cells {
		cells[i] = 1
	}
	return &Potential{vars: sorted, cells: cells}
}

// Indicator returns the point mass over vars at the given states.
// With no variables the result is the scalar 1.
func Indicator(vars []Variable, states []int) (*Potential, error) {
	if len(vars) != len(states) {
		return nil, fmt.Errorf("indicator: %d variables but %d states", len(vars), len(states))
	}
	if len(vars) == 0 {
		return Identity(), nil
	}
	for i, v := range vars {
		if !v.Valid(states[i]) {
			return nil, fmt.Errorf("indicator: state %d out of range for %s", states[i], v)
		}
	}

	p := &Potential{vars: sortVars(vars)}
	p.cells = make([]float64, tableSize(p.vars))
	strides := p.strides()
	offset := 0
	for i, v := range vars {
		offset += states[i] * strides[p.indexOf(v)]
	}
	p.cells[offset] = 1
	return p, nil
}

// New builds a potential over vars from cells laid out row-major in the
// order the variables are given. The variables are reordered internally.
func New(vars []Variable, cells []float64) (*Potential, error) {
	if err := checkDistinct(vars); err != nil {
		return nil, err
	}
	if want := tableSize(vars); len(cells) != want {
		return nil, fmt.Errorf("potential: %d cells given, %d expected", len(cells), want)
	}
	for i, c := range cells {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("potential: cell %d has invalid value %v", i, c)
		}
	}

	sorted := sortVars(vars)
	out := make([]float64, len(cells))
	if slices.EqualFunc(sorted, vars, sameVar) {
		copy(out, cells)
		return &Potential{vars: sorted, cells: out}, nil
	}

	// Strides of the caller's layout, realigned to the sorted order.
	given := stridesOf(vars)
	aligned := make([]int, len(sorted))
	for i, v := range vars {
		aligned[slices.IndexFunc(sorted, func(s Variable) bool { return s.ID == v.ID })] = given[i]
	}
	walk(sorted, [][]int{aligned}, nil, func(k int, offs []int) {
		out[k] = cells[offs[0]]
	})
	return &Potential{vars: sorted, cells: out}, nil
}

// MustNew is New for tables known to be valid. It panics on error.
func MustNew(vars []Variable, cells []float64) *Potential {
	p, err := New(vars, cells)
	if err != nil {
		panic(err)
	}
	return p
}

// Vars returns the variables of p sorted by ID.
func (p *Potential) Vars() []Variable {
	return slices.Clone(p.vars)
}

// Dim returns the number of variables of p.
func (p *Potential) Dim() int {
	return len(p.vars)
}

// Cells returns a copy of the cells of p.
func (p *Potential) Cells() []float64 {
	return slices.Clone(p.cells)
}

// Cell returns the i-th cell of p.
func (p *Potential) Cell(i int) float64 {
	return p.cells[i]
}

// Len returns the number of cells of p.
func (p *Potential) Len() int {
	return len(p.cells)
}

// Contains reports whether v is one of the variables of p.
func (p *Potential) Contains(v Variable) bool {
	return p.indexOf(v) >= 0
}

// Value returns the cell at the given assignment, keyed by variable ID.
// Every variable of p must be assigned.
func (p *Potential) Value(assignment map[int]int) (float64, error) {
	strides := p.strides()
	offset := 0
	for i, v := range p.vars {
		s, ok := assignment[v.ID]
		if !ok {
			return 0, fmt.Errorf("potential: variable %s not assigned", v.Name)
		}
		if !v.Valid(s) {
			return 0, fmt.Errorf("potential: state %d out of range for %s", s, v)
		}
		offset += s * strides[i]
	}
	return p.cells[offset], nil
}

// Sum returns the total mass of p.
func (p *Potential) Sum() float64 {
	return floats.Sum(p.cells)
}

// HasZeroCell reports whether any cell of p is exactly zero.
func (p *Potential) HasZeroCell() bool {
	return slices.Contains(p.cells, 0)
}

// ArgMax returns the index of the largest cell, the first one on ties.
func (p *Potential) ArgMax() int {
	return floats.MaxIdx(p.cells)
}

// Scale returns p with every cell multiplied by c.
func (p *Potential) Scale(c float64) *Potential {
	out := slices.Clone(p.cells)
	floats.Scale(c, out)
	return &Potential{vars: p.vars, cells: out}
}

// Normalize returns p rescaled to sum to one together with the mass that was
// removed. When the mass is zero or not finite p is returned unchanged and the
// caller must treat the table as degenerate.
func (p *Potential) Normalize() (*Potential, float64) {
	s := floats.Sum(p.cells)
	if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return p, s
	}
	return p.Scale(1 / s), s
}

// Times returns the pointwise product of p and q over the union of their
// variables.
func (p *Potential) Times(q *Potential) *Potential {
	switch {
	case len(q.vars) == 0:
		return p.Scale(q.cells[0])
	case len(p.vars) == 0:
		return q.Scale(p.cells[0])
	case slices.EqualFunc(p.vars, q.vars, sameVar):
		out := make([]float64, len(p.cells))
		floats.MulTo(out, p.cells, q.cells)
		return &Potential{vars: p.vars, cells: out}
	}

	vars := unionVars(p.vars, q.vars)
	out := make([]float64, tableSize(vars))
	walk(vars, [][]int{alignStrides(p.vars, vars), alignStrides(q.vars, vars)}, nil, func(k int, offs []int) {
		out[k] = p.cells[offs[0]] * q.cells[offs[1]]
	})
	return &Potential{vars: vars, cells: out}
}

// Divide returns p divided pointwise by q. The variables of q must be a
// subset of those of p. Division by a zero cell yields zero.
func (p *Potential) Divide(q *Potential) (*Potential, error) {
	for _, v := range q.vars {
		if !p.Contains(v) {
			return nil, fmt.Errorf("potential: divisor variable %s not in dividend", v.Name)
		}
	}
	out := make([]float64, len(p.cells))
	walk(p.vars, [][]int{alignStrides(q.vars, p.vars)}, nil, func(k int, offs []int) {
		if d := q.cells[offs[0]]; d != 0 {
			out[k] = p.cells[k] / d
		}
	})
	return &Potential{vars: p.vars, cells: out}, nil
}

// SumOut returns p with v summed out. If v is not a variable of p, p is
// returned as is.
func (p *Potential) SumOut(v Variable) *Potential {
	i := p.indexOf(v)
	if i < 0 {
		return p
	}
	keep := slices.Delete(slices.Clone(p.vars), i, i+1)
	return p.marginalize(keep)
}

// Marginalize returns the marginal of p over the given variables. Variables
// not in p are ignored.
func (p *Potential) Marginalize(vars ...Variable) *Potential {
	keep := make([]Variable, 0, len(vars))
	for _, v := range p.vars {
		if slices.ContainsFunc(vars, func(w Variable) bool { return w.ID == v.ID }) {
			keep = append(keep, v)
		}
	}
	if len(keep) == len(p.vars) {
		return p
	}
	return p.marginalize(keep)
}

func (p *Potential) marginalize(keep []Variable) *Potential {
	out := make([]float64, tableSize(keep))
	walk(p.vars, [][]int{alignStrides(keep, p.vars)}, nil, func(k int, offs []int) {
		out[offs[0]] += p.cells[k]
	})
	return &Potential{vars: keep, cells: out}
}

// Project returns the slice of p at v = state, with v removed. If v is not a
// variable of p, p is returned as is.
func (p *Potential) Project(v Variable, state int) (*Potential, error) {
	i := p.indexOf(v)
	if i < 0 {
		return p, nil
	}
	if !v.Valid(state) {
		return nil, fmt.Errorf("potential: state %d out of range for %s", state, v)
	}

	strides := p.strides()
	rest := slices.Delete(slices.Clone(p.vars), i, i+1)
	out := make([]float64, tableSize(rest))
	walk(rest, [][]int{alignStrides(p.vars, rest, strides...)}, []int{state * strides[i]}, func(k int, offs []int) {
		out[k] = p.cells[offs[0]]
	})
	return &Potential{vars: rest, cells: out}, nil
}

func (p *Potential) String() string {
	return fmt.Sprintf("potential%v%v", p.vars, p.cells)
}

func (p *Potential) indexOf(v Variable) int {
	return slices.IndexFunc(p.vars, func(w Variable) bool { return w.ID == v.ID })
}

func (p *Potential) strides() []int {
	return stridesOf(p.vars)
}
