package cliquetree

import (
	"fmt"
	"slices"

	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// Kind distinguishes family cliques from variable cliques.
type Kind int8

const (
	// Family cliques cover a variable and its parent.
	Family Kind = iota + 1
	// VariableKind cliques cover one latent variable alone.
	VariableKind
)

func (k Kind) String() string {
	switch k {
	case Family:
		return "family"
	case VariableKind:
		return "variable"
	default:
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
}

// Clique is one node of the junction tree.
type Clique struct {
	ID   int
	Kind Kind
	Var  int                  // variable the clique is keyed by
	Vars []potential.Variable // sorted by ID
	Out  []int                // directed edges leaving this clique
}

// Edge is a directed junction tree edge.
type Edge struct {
	From, To  int
	Separator potential.Variable
}

// Topology is the immutable junction tree of one model.
type Topology struct {
	model    *ir.Model
	cliques  []Clique
	edges    []Edge
	family   []int // variable ID -> family clique
	variable []int // variable ID -> variable clique, -1 for leaves
	pivot    int
	parent   []int // clique -> edge toward pivot, -1 at pivot
	depth    []int // clique -> edges from pivot
}

// Build constructs the junction tree of m.
func Build(m *ir.Model) *Topology {
	n := m.Len()
	t := &Topology{
		model:    m,
		cliques:  make([]Clique, 0, 2*n),
		family:   make([]int, n),
		variable: make([]int, n),
	}

	// Cliques are created in model pre-order, F_X before C_X, so every
	// clique's neighbor toward the root already exists when it is added.
	for _, id := range m.PreOrder() {
		node := m.Node(id)
		vars := []potential.Variable{node.Var}
		if node.Parent >= 0 {
			vars = append(vars, m.Variable(node.Parent))
			slices.SortFunc(vars, func(a, b potential.Variable) int { return a.ID - b.ID })
		}
		t.family[id] = t.addClique(Family, id, vars)
		if node.Parent >= 0 {
			t.connect(t.family[id], t.variable[node.Parent], m.Variable(node.Parent))
		}

		t.variable[id] = -1
		if !m.IsLeaf(id) {
			t.variable[id] = t.addClique(VariableKind, id, []potential.Variable{node.Var})
			t.connect(t.family[id], t.variable[id], node.Var)
		}
	}

	t.pivot = t.family[m.Root()]
	if c := t.variable[m.Root()]; c >= 0 {
		t.pivot = c
	}
	t.orient()
	return t
}

func (t *Topology) addClique(kind Kind, v int, vars []potential.Variable) int {
	id := len(t.cliques)
	t.cliques = append(t.cliques, Clique{ID: id, Kind: kind, Var: v, Vars: vars})
	return id
}

func (t *Topology) connect(a, b int, sep potential.Variable) {
	e := len(t.edges)
	t.edges = append(t.edges, Edge{From: a, To: b, Separator: sep}, Edge{From: b, To: a, Separator: sep})
	t.cliques[a].Out = append(t.cliques[a].Out, e)
	t.cliques[b].Out = append(t.cliques[b].Out, e+1)
}

// orient records, for every clique, the edge toward the pivot and its depth.
func (t *Topology) orient() {
	t.parent = make([]int, len(t.cliques))
	t.depth = make([]int, len(t.cliques))
	t.parent[t.pivot] = -1

	stack := []int{t.pivot}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range t.cliques[c].Out {
			next := t.edges[e].To
			if next == t.pivot || (t.parent[c] >= 0 && next == t.edges[t.parent[c]].To) {
				continue
			}
			t.parent[next] = e ^ 1
			t.depth[next] = t.depth[c] + 1
			stack = append(stack, next)
		}
	}
}

// Model returns the model the topology was built from.
func (t *Topology) Model() *ir.Model { return t.model }

// Len returns the number of cliques.
func (t *Topology) Len() int { return len(t.cliques) }

// NumEdges returns the number of directed edges.
func (t *Topology) NumEdges() int { return len(t.edges) }

// Clique returns the clique with the given ID.
func (t *Topology) Clique(id int) *Clique { return &t.cliques[id] }

// Edge returns the directed edge with the given ID.
func (t *Topology) Edge(e int) Edge { return t.edges[e] }

// Reverse returns the opposite direction of edge e.
func Reverse(e int) int { return e ^ 1 }

// Pivot returns the clique propagation is rooted at over the full tree:
// the root's variable clique, or its family clique for a one-node model.
func (t *Topology) Pivot() int { return t.pivot }

// ParentEdge returns the edge from c toward the pivot, or -1 at the pivot.
func (t *Topology) ParentEdge(c int) int { return t.parent[c] }

// Depth returns the number of edges between c and the pivot.
func (t *Topology) Depth(c int) int { return t.depth[c] }

// FamilyClique returns the family clique of v.
func (t *Topology) FamilyClique(v potential.Variable) (int, bool) {
	if !t.model.Has(v) {
		return -1, false
	}
	return t.family[v.ID], true
}

// VariableClique returns the variable clique of v. Leaves have none.
func (t *Topology) VariableClique(v potential.Variable) (int, bool) {
	if !t.model.Has(v) || t.variable[v.ID] < 0 {
		return -1, false
	}
	return t.variable[v.ID], true
}

// NodeCliques appends the family clique of variable id and, if it is
// latent, its variable clique.
func (t *Topology) NodeCliques(dst []int, id int) []int {
	dst = append(dst, t.family[id])
	if c := t.variable[id]; c >= 0 {
		dst = append(dst, c)
	}
	return dst
}

// EdgeBetween returns the directed edge from a to b.
func (t *Topology) EdgeBetween(a, b int) (int, bool) {
	for _, e := range t.cliques[a].Out {
		if t.edges[e].To == b {
			return e, true
		}
	}
	return -1, false
}

// Path returns the cliques on the tree path from a to b, both included.
func (t *Topology) Path(a, b int) []int {
	var up, down []int
	for a != b {
		if t.depth[a] >= t.depth[b] {
			up = append(up, a)
			a = t.edges[t.parent[a]].To
		} else {
			down = append(down, b)
			b = t.edges[t.parent[b]].To
		}
	}
	up = append(up, a)
	slices.Reverse(down)
	return append(up, down...)
}

// MinimalSubtree returns the smallest connected clique set, sorted by ID,
// that contains the family clique of every given variable.
func (t *Topology) MinimalSubtree(vars []potential.Variable) ([]int, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("minimal subtree: no variables")
	}
	anchors := make([]int, 0, len(vars))
	for _, v := range vars {
		c, ok := t.FamilyClique(v)
		if !ok {
			return nil, fmt.Errorf("minimal subtree: variable %s not in model", v.Name)
		}
		anchors = append(anchors, c)
	}

	in := make([]bool, len(t.cliques))
	for _, a := range anchors[1:] {
		for _, c := range t.Path(anchors[0], a) {
			in[c] = true
		}
	}
	in[anchors[0]] = true

	var out []int
	for c, ok := range in {
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}
