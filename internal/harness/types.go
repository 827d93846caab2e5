package harness

// StepTrace records what one step observed and computed.
type StepTrace struct {
	Step       int            `json:"step"`
	Evidence   map[string]int `json:"evidence"`
	Positives  []string       `json:"positives,omitempty"`
	Restricted bool           `json:"restricted"`

	// Focused is the number of cliques propagated over, or 0 for the
	// whole tree.
	Focused int `json:"focused"`

	Likelihood    float64 `json:"likelihood"`
	LogLikelihood float64 `json:"log_likelihood"`

	// Beliefs holds the posteriors of the queried variables that were in
	// scope.
	Beliefs map[string][]float64 `json:"beliefs,omitempty"`

	// OutOfScope lists queried variables outside the restricted range.
	OutOfScope []string `json:"out_of_scope,omitempty"`

	// Error is the inference error code when the step failed.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one entry per step, in order.
	Trace []StepTrace `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepTrace{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step trace.
func (r *Result) AddStep(st StepTrace) {
	r.Trace = append(r.Trace, st)
}
