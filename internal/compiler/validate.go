package compiler

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/latentrec/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrModelNameEmpty      = "E101" // model name is required
	ErrModelNoVariables    = "E102" // at least one variable required
	ErrDuplicateName       = "E103" // duplicate variable name
	ErrTooFewStates        = "E104" // cardinality below 2
	ErrUnknownParent       = "E105" // parent names no variable
	ErrRootCount           = "E106" // not exactly one root
	ErrCPTShape            = "E107" // CPT rows or row lengths wrong
	ErrCPTEntry            = "E108" // negative, NaN or infinite entry
	ErrCPTNotStochastic    = "E109" // CPT row does not sum to one
	ErrParentCycle         = "E110" // parent links form a cycle
	ErrInvalidVariableName = "E111" // empty or malformed variable name
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled model spec.
// Returns all errors found (does not fail-fast). A spec that validates
// cleanly always builds with ir.Build.
func Validate(spec *ir.ModelSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if strings.TrimSpace(spec.Name) == "" {
		add("name", ErrModelNameEmpty, "model name is required and must be non-empty")
	}
	if len(spec.Variables) == 0 {
		add("variables", ErrModelNoVariables, "at least one variable is required")
		return errs
	}

	states := make(map[string]int, len(spec.Variables))
	seen := make(map[string]bool, len(spec.Variables))
	for i, vs := range spec.Variables {
		field := fmt.Sprintf("variables[%d]", i)
		switch {
		case strings.TrimSpace(vs.Name) == "" || strings.ContainsAny(vs.Name, " \t\n"):
			add(field+".name", ErrInvalidVariableName, "invalid variable name %q", vs.Name)
		case seen[vs.Name]:
			add(field+".name", ErrDuplicateName, "duplicate variable name: %q", vs.Name)
		}
		if vs.States < 2 {
			add(field+".states", ErrTooFewStates, "variable %q needs at least 2 states, has %d", vs.Name, vs.States)
		}
		if !seen[vs.Name] {
			seen[vs.Name] = true
			states[vs.Name] = vs.States
		}
	}

	var roots []string
	for i, vs := range spec.Variables {
		field := fmt.Sprintf("variables[%d]", i)
		if vs.IsRoot() {
			roots = append(roots, vs.Name)
		} else if _, ok := states[vs.Parent]; !ok {
			add(field+".parent", ErrUnknownParent, "variable %q has unknown parent %q", vs.Name, vs.Parent)
		}
		errs = append(errs, validateCPT(field+".cpt", vs, states)...)
	}
	if len(roots) != 1 {
		add("variables", ErrRootCount, "model needs exactly one root, has %d %v", len(roots), roots)
	}

	for _, c := range FindParentCycles(spec) {
		add("variables", ErrParentCycle, "%s", c.Message)
	}

	return errs
}

func validateCPT(field string, vs ir.VariableSpec, states map[string]int) []ValidationError {
	var errs []ValidationError
	rows := 1
	if !vs.IsRoot() {
		p, ok := states[vs.Parent]
		if !ok {
			return nil
		}
		rows = p
	}
	if len(vs.CPT) != rows {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("variable %q CPT has %d rows, want %d", vs.Name, len(vs.CPT), rows),
			Code:    ErrCPTShape,
		})
	}
	for r, row := range vs.CPT {
		rf := fmt.Sprintf("%s[%d]", field, r)
		if len(row) != vs.States {
			errs = append(errs, ValidationError{
				Field:   rf,
				Message: fmt.Sprintf("variable %q CPT row has %d entries, want %d", vs.Name, len(row), vs.States),
				Code:    ErrCPTShape,
			})
			continue
		}
		sum, valid := 0.0, true
		for _, x := range row {
			if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
				errs = append(errs, ValidationError{
					Field:   rf,
					Message: fmt.Sprintf("variable %q CPT has invalid entry %v", vs.Name, x),
					Code:    ErrCPTEntry,
				})
				valid = false
				break
			}
			sum += x
		}
		if valid && math.Abs(sum-1) > ir.CPTTolerance {
			errs = append(errs, ValidationError{
				Field:   rf,
				Message: fmt.Sprintf("variable %q CPT row sums to %v", vs.Name, sum),
				Code:    ErrCPTNotStochastic,
			})
		}
	}
	return errs
}
