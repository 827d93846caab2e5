package engine

import (
	"errors"
	"fmt"
)

// InferenceError represents an error detected while setting evidence,
// propagating or querying an engine.
//
// Inference errors are task-local: they abort the current query only. The
// engine stays usable after the caller resets its evidence or messages.
type InferenceError struct {
	// Code identifies the error category.
	Code InferenceErrorCode

	// Message is a human-readable description.
	Message string

	// Variable names the variable involved, if any.
	Variable string

	// Clique identifies the clique involved, or -1.
	Clique int

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// InferenceErrorCode categorizes inference errors.
type InferenceErrorCode string

const (
	// ErrCodePrecondition indicates malformed evidence, an unknown variable
	// or a call in the wrong engine state.
	ErrCodePrecondition InferenceErrorCode = "PRECONDITION_VIOLATION"

	// ErrCodeDegenerate indicates a message or belief with zero or
	// non-finite mass.
	ErrCodeDegenerate InferenceErrorCode = "NUMERIC_DEGENERACY"

	// ErrCodeInterrupted indicates the context was done when propagation
	// started.
	ErrCodeInterrupted InferenceErrorCode = "INTERRUPTED"

	// ErrCodeNotPropagated indicates a query before a successful Propagate.
	ErrCodeNotPropagated InferenceErrorCode = "NOT_PROPAGATED"
)

// Error implements the error interface.
func (e *InferenceError) Error() string {
	switch {
	case e.Variable != "":
		return fmt.Sprintf("%s: %s (variable=%s)", e.Code, e.Message, e.Variable)
	case e.Clique >= 0:
		return fmt.Sprintf("%s: %s (clique=%d)", e.Code, e.Message, e.Clique)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error { return e.Err }

// CodeOf returns the inference error code of err, or "" if err is not an
// InferenceError. Uses errors.As to handle wrapped errors.
func CodeOf(err error) InferenceErrorCode {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsPrecondition returns true if the error is a precondition violation.
func IsPrecondition(err error) bool { return CodeOf(err) == ErrCodePrecondition }

// IsDegenerate returns true if the error is a numeric degeneracy.
func IsDegenerate(err error) bool { return CodeOf(err) == ErrCodeDegenerate }

// IsInterrupted returns true if the error is an interrupted propagation.
func IsInterrupted(err error) bool { return CodeOf(err) == ErrCodeInterrupted }

// IsNotPropagated returns true if the error is a query before propagation.
func IsNotPropagated(err error) bool { return CodeOf(err) == ErrCodeNotPropagated }

// NewPreconditionError creates an InferenceError for a violated precondition.
func NewPreconditionError(variable, format string, args ...any) *InferenceError {
	return &InferenceError{
		Code:     ErrCodePrecondition,
		Message:  fmt.Sprintf(format, args...),
		Variable: variable,
		Clique:   -1,
	}
}

// NewDegeneracyError creates an InferenceError for a zero or non-finite
// normalization constant found at clique.
func NewDegeneracyError(clique int, mass float64) *InferenceError {
	return &InferenceError{
		Code:    ErrCodeDegenerate,
		Message: "normalization constant is not a positive finite number",
		Clique:  clique,
		Details: map[string]string{
			"mass": fmt.Sprintf("%v", mass),
		},
	}
}

// NewInterruptedError wraps a context error observed before propagation.
func NewInterruptedError(cause error) *InferenceError {
	return &InferenceError{
		Code:    ErrCodeInterrupted,
		Message: "propagation interrupted",
		Clique:  -1,
		Err:     cause,
	}
}

// NewNotPropagatedError creates an InferenceError for a query issued before
// a successful Propagate.
func NewNotPropagatedError(op string) *InferenceError {
	return &InferenceError{
		Code:    ErrCodeNotPropagated,
		Message: fmt.Sprintf("%s called before a successful propagation", op),
		Clique:  -1,
	}
}
