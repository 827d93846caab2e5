// Package compiler turns CUE model definitions into ir.ModelSpec values and
// validates them.
//
// A model file declares one or more models under the "model" field:
//
//	model: Star: {
//		variables: {
//			Z:  {states: 2, cpt: [[0.5, 0.5]]}
//			X1: {states: 2, parent: "Z", cpt: [[0.8, 0.2], [0.2, 0.8]]}
//		}
//	}
//
// Variables keep their declaration order, which fixes their IDs.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/latentrec/internal/ir"
)

// CompileModel parses a CUE value into a ModelSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: Star: { ... }`)
//	spec, err := CompileModel(v.LookupPath(cue.ParsePath("model.Star")))
func CompileModel(v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ModelSpec{}

	// Model name from struct label, overridable by a name field
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].Unquoted()
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Name = name
	}

	varsVal := v.LookupPath(cue.ParsePath("variables"))
	if !varsVal.Exists() {
		return nil, &CompileError{
			Field:   "variables",
			Message: "variables are required",
			Pos:     v.Pos(),
		}
	}
	iter, err := varsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		vs, err := compileVariable(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Variables = append(spec.Variables, vs)
	}
	if len(spec.Variables) == 0 {
		return nil, &CompileError{
			Field:   "variables",
			Message: "at least one variable is required",
			Pos:     varsVal.Pos(),
		}
	}

	return spec, nil
}

// CompileModels compiles every model declared under the "model" field of v,
// in declaration order.
func CompileModels(v cue.Value) ([]ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, nil
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var specs []ir.ModelSpec
	for iter.Next() {
		spec, err := CompileModel(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

func compileVariable(name string, v cue.Value) (ir.VariableSpec, error) {
	vs := ir.VariableSpec{Name: name}

	statesVal := v.LookupPath(cue.ParsePath("states"))
	if !statesVal.Exists() {
		return vs, &CompileError{
			Field:   name + ".states",
			Message: "states is required",
			Pos:     v.Pos(),
		}
	}
	states, err := statesVal.Int64()
	if err != nil {
		return vs, &CompileError{
			Field:   name + ".states",
			Message: "states must be an integer",
			Pos:     statesVal.Pos(),
		}
	}
	vs.States = int(states)

	if parentVal := v.LookupPath(cue.ParsePath("parent")); parentVal.Exists() {
		parent, err := parentVal.String()
		if err != nil {
			return vs, &CompileError{
				Field:   name + ".parent",
				Message: "parent must be a variable name",
				Pos:     parentVal.Pos(),
			}
		}
		vs.Parent = parent
	}

	cptVal := v.LookupPath(cue.ParsePath("cpt"))
	if !cptVal.Exists() {
		return vs, &CompileError{
			Field:   name + ".cpt",
			Message: "cpt is required",
			Pos:     v.Pos(),
		}
	}
	if err := cptVal.Decode(&vs.CPT); err != nil {
		return vs, &CompileError{
			Field:   name + ".cpt",
			Message: fmt.Sprintf("cpt must be a list of number lists: %v", err),
			Pos:     cptVal.Pos(),
		}
	}

	return vs, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
