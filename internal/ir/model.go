package ir

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/latentrec/internal/potential"
)

// CPTTolerance bounds how far a CPT row may drift from summing to one.
const CPTTolerance = 1e-6

// Node is one variable of a model together with its CPT and tree links.
type Node struct {
	Var      potential.Variable
	Parent   int // -1 for the root
	Children []int
	CPT      *potential.Potential // over {Var} or {Var, parent}
}

// Model is an immutable latent tree model. Nodes are indexed by variable ID.
type Model struct {
	spec   ModelSpec
	nodes  []Node
	root   int
	byName map[string]int
	depth  []int
}

// Build validates spec and indexes it into a Model.
func Build(spec ModelSpec) (*Model, error) {
	n := len(spec.Variables)
	if n == 0 {
		return nil, fmt.Errorf("model %q: no variables", spec.Name)
	}

	m := &Model{
		spec:   spec,
		nodes:  make([]Node, n),
		root:   -1,
		byName: make(map[string]int, n),
		depth:  make([]int, n),
	}
	for i, vs := range spec.Variables {
		if vs.Name == "" {
			return nil, fmt.Errorf("model %q: variable %d has no name", spec.Name, i)
		}
		if _, dup := m.byName[vs.Name]; dup {
			return nil, fmt.Errorf("model %q: duplicate variable %q", spec.Name, vs.Name)
		}
		if vs.States < 2 {
			return nil, fmt.Errorf("variable %q: needs at least 2 states, has %d", vs.Name, vs.States)
		}
		m.byName[vs.Name] = i
		m.nodes[i] = Node{Var: potential.Variable{ID: i, Name: vs.Name, Card: vs.States}, Parent: -1}
	}

	for i, vs := range spec.Variables {
		if vs.IsRoot() {
			if m.root >= 0 {
				return nil, fmt.Errorf("model %q: multiple roots %q and %q", spec.Name, m.nodes[m.root].Var.Name, vs.Name)
			}
			m.root = i
			continue
		}
		p, ok := m.byName[vs.Parent]
		if !ok {
			return nil, fmt.Errorf("variable %q: unknown parent %q", vs.Name, vs.Parent)
		}
		if p == i {
			return nil, fmt.Errorf("variable %q: is its own parent", vs.Name)
		}
		m.nodes[i].Parent = p
		m.nodes[p].Children = append(m.nodes[p].Children, i)
	}
	if m.root < 0 {
		return nil, fmt.Errorf("model %q: no root", spec.Name)
	}

	// Every node must be reachable from the root, otherwise parent links
	// contain a cycle.
	order := m.PreOrder()
	if len(order) != n {
		return nil, fmt.Errorf("model %q: parent links contain a cycle", spec.Name)
	}
	for _, i := range order {
		if p := m.nodes[i].Parent; p >= 0 {
			m.depth[i] = m.depth[p] + 1
		}
	}

	for i, vs := range spec.Variables {
		cpt, err := m.buildCPT(i, vs)
		if err != nil {
			return nil, err
		}
		m.nodes[i].CPT = cpt
	}
	return m, nil
}

func (m *Model) buildCPT(i int, vs VariableSpec) (*potential.Potential, error) {
	node := m.nodes[i]
	rows := 1
	vars := []potential.Variable{node.Var}
	if node.Parent >= 0 {
		pv := m.nodes[node.Parent].Var
		rows = pv.Card
		vars = []potential.Variable{pv, node.Var}
	}
	if len(vs.CPT) != rows {
		return nil, fmt.Errorf("variable %q: CPT has %d rows, want %d", vs.Name, len(vs.CPT), rows)
	}

	cells := make([]float64, 0, rows*vs.States)
	for r, row := range vs.CPT {
		if len(row) != vs.States {
			return nil, fmt.Errorf("variable %q: CPT row %d has %d entries, want %d", vs.Name, r, len(row), vs.States)
		}
		sum := 0.0
		for _, x := range row {
			if x < 0 || math.IsNaN(x) {
				return nil, fmt.Errorf("variable %q: CPT row %d has invalid entry %v", vs.Name, r, x)
			}
			sum += x
		}
		if math.Abs(sum-1) > CPTTolerance {
			return nil, fmt.Errorf("variable %q: CPT row %d sums to %v", vs.Name, r, sum)
		}
		cells = append(cells, row...)
	}
	return potential.New(vars, cells)
}

// MustBuild is like Build but panics on error.
// Use only in tests or when the model spec is known to be valid.
func MustBuild(spec ModelSpec) *Model {
	m, err := Build(spec)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the model name.
func (m *Model) Name() string { return m.spec.Name }

// Spec returns the model spec the model was built from.
func (m *Model) Spec() ModelSpec { return m.spec }

// Len returns the number of variables.
func (m *Model) Len() int { return len(m.nodes) }

// Root returns the root variable ID.
func (m *Model) Root() int { return m.root }

// Node returns the node with the given variable ID.
func (m *Model) Node(id int) *Node { return &m.nodes[id] }

// Variable returns the variable with the given ID.
func (m *Model) Variable(id int) potential.Variable { return m.nodes[id].Var }

// Variables returns all variables ordered by ID.
func (m *Model) Variables() []potential.Variable {
	out := make([]potential.Variable, len(m.nodes))
	for i := range m.nodes {
		out[i] = m.nodes[i].Var
	}
	return out
}

// Lookup returns the ID of the named variable.
func (m *Model) Lookup(name string) (int, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// Has reports whether v is a variable of this model.
func (m *Model) Has(v potential.Variable) bool {
	return v.ID >= 0 && v.ID < len(m.nodes) && m.nodes[v.ID].Var == v
}

// IsLeaf reports whether the variable has no children.
func (m *Model) IsLeaf(id int) bool { return len(m.nodes[id].Children) == 0 }

// Depth returns the number of edges between the variable and the root.
func (m *Model) Depth(id int) int { return m.depth[id] }

// Leaves returns the IDs of the observed (childless) variables in ID order.
func (m *Model) Leaves() []int {
	var out []int
	for i := range m.nodes {
		if m.IsLeaf(i) {
			out = append(out, i)
		}
	}
	return out
}

// Latents returns the IDs of the variables with children in ID order.
func (m *Model) Latents() []int {
	var out []int
	for i := range m.nodes {
		if !m.IsLeaf(i) {
			out = append(out, i)
		}
	}
	return out
}

// PreOrder returns variable IDs with every parent before its children.
func (m *Model) PreOrder() []int {
	order := make([]int, 0, len(m.nodes))
	stack := []int{m.root}
	seen := make([]bool, len(m.nodes))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
		children := m.nodes[id].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return order
}

// Levels groups variables by level: level 0 holds the leaves and level k+1
// holds the parents of level k. A variable may appear on several levels when
// its subtrees have different heights.
func (m *Model) Levels() [][]int {
	var levels [][]int
	current := m.Leaves()
	for len(current) > 0 {
		levels = append(levels, current)
		var next []int
		for _, id := range current {
			if p := m.nodes[id].Parent; p >= 0 && !slices.Contains(next, p) {
				next = append(next, p)
			}
		}
		slices.Sort(next)
		current = next
	}
	return levels
}

// Level returns the variables at level k.
func (m *Model) Level(k int) ([]int, error) {
	levels := m.Levels()
	if k < 0 || k >= len(levels) {
		return nil, fmt.Errorf("model %q: level %d out of range [0,%d)", m.Name(), k, len(levels))
	}
	return levels[k], nil
}

// Path returns the variable IDs on the tree path from a to b, both included.
func (m *Model) Path(a, b int) []int {
	var up, down []int
	for a != b {
		if m.depth[a] >= m.depth[b] {
			up = append(up, a)
			a = m.nodes[a].Parent
		} else {
			down = append(down, b)
			b = m.nodes[b].Parent
		}
	}
	up = append(up, a)
	slices.Reverse(down)
	return append(up, down...)
}

// IsAncestor reports whether a lies on the path from d to the root, d itself
// included.
func (m *Model) IsAncestor(a, d int) bool {
	for ; d >= 0; d = m.nodes[d].Parent {
		if d == a {
			return true
		}
	}
	return false
}
