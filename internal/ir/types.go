package ir

// ModelSpec is the compiled form of a latent tree model.
type ModelSpec struct {
	Name      string         `json:"name"`
	Variables []VariableSpec `json:"variables"`
}

// VariableSpec describes one node of the tree.
//
// CPT has one row per parent state (a single row for the root); row r is the
// distribution of this variable given parent state r.
type VariableSpec struct {
	Name   string      `json:"name"`
	States int         `json:"states"`
	Parent string      `json:"parent,omitempty"`
	CPT    [][]float64 `json:"cpt"`
}

// IsRoot reports whether the variable has no parent.
func (v VariableSpec) IsRoot() bool {
	return v.Parent == ""
}

// canonical returns the model spec as a tree of plain values for MarshalCanonical.
func (s ModelSpec) canonical() map[string]any {
	vars := make([]any, len(s.Variables))
	for i, v := range s.Variables {
		rows := make([]any, len(v.CPT))
		for r, row := range v.CPT {
			cells := make([]any, len(row))
			for c, x := range row {
				cells[c] = x
			}
			rows[r] = cells
		}
		obj := map[string]any{
			"name":   v.Name,
			"states": v.States,
			"cpt":    rows,
		}
		if v.Parent != "" {
			obj["parent"] = v.Parent
		}
		vars[i] = obj
	}
	return map[string]any{
		"name":      s.Name,
		"variables": vars,
	}
}
