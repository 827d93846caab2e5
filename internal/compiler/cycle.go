package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/latentrec/internal/ir"
)

// ParentCycle is a cycle in the parent links of a model spec.
type ParentCycle struct {
	Path    []string `json:"path"`    // ["A", "B", "A"]: A's parent is B, B's parent is A
	Message string   `json:"message"` // Human-readable description
}

// FindParentCycles reports every cycle formed by parent links. A spec
// whose parent links form a tree returns an empty list.
//
// Parent links are edges child -> parent; a strongly connected component
// with more than one variable, or a variable naming itself, is a cycle.
// Unknown parents are ignored here; Validate reports them.
func FindParentCycles(spec *ir.ModelSpec) []ParentCycle {
	graph := buildParentGraph(spec)
	cycles := []ParentCycle{}
	for _, scc := range tarjanSCC(graph, specOrder(spec)) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			cycles = append(cycles, sccToCycle(scc, graph))
		}
	}
	return cycles
}

// parentGraph maps a variable to its parent, as a one-element list.
type parentGraph map[string][]string

func buildParentGraph(spec *ir.ModelSpec) parentGraph {
	known := make(map[string]bool, len(spec.Variables))
	for _, vs := range spec.Variables {
		known[vs.Name] = true
	}
	graph := make(parentGraph, len(spec.Variables))
	for _, vs := range spec.Variables {
		if graph[vs.Name] == nil {
			graph[vs.Name] = []string{}
		}
		if !vs.IsRoot() && known[vs.Parent] {
			graph[vs.Name] = append(graph[vs.Name], vs.Parent)
		}
	}
	return graph
}

func specOrder(spec *ir.ModelSpec) []string {
	order := make([]string, 0, len(spec.Variables))
	for _, vs := range spec.Variables {
		if !slices.Contains(order, vs.Name) {
			order = append(order, vs.Name)
		}
	}
	return order
}

func hasSelfLoop(node string, graph parentGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order so results are deterministic.
func tarjanSCC(graph parentGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// sccToCycle follows parent links from the alphabetically first member of
// the component back to itself.
func sccToCycle(scc []string, graph parentGraph) ParentCycle {
	start := slices.Min(scc)
	path := []string{start}
	for cur := start; ; {
		next := graph[cur][0]
		path = append(path, next)
		if next == start {
			break
		}
		cur = next
	}
	if len(path) == 2 {
		return ParentCycle{
			Path:    path,
			Message: fmt.Sprintf("variable %s is its own parent", start),
		}
	}
	return ParentCycle{
		Path:    path,
		Message: fmt.Sprintf("parent links form a cycle: %s", strings.Join(path, " -> ")),
	}
}
