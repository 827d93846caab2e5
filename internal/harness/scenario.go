package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario compiles one model, runs a sequence of inference steps on a
// single engine and asserts on the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Model is the path of the CUE file or directory declaring the model.
	// Relative paths are resolved against the scenario file location.
	Model string `yaml:"model"`

	// ModelName selects a model when the file declares several. Defaults
	// to the first declared model.
	ModelName string `yaml:"model_name,omitempty"`

	// TopLevel names the top-level latent variables. Required by
	// restricted steps.
	TopLevel []string `yaml:"top_level,omitempty"`

	// Steps run in order on the same engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace after all steps ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one evidence-propagate-query round.
type Step struct {
	// Evidence maps variable names to observed states.
	Evidence map[string]int `yaml:"evidence,omitempty"`

	// Positives observes the named leaves in state 1 and every other leaf
	// in state 0. Mutually exclusive with Evidence.
	Positives []string `yaml:"positives,omitempty"`

	// Restricted focuses propagation on the range of the positive evidence.
	Restricted bool `yaml:"restricted,omitempty"`

	// Query names the variables whose beliefs are recorded. Defaults to
	// every latent variable.
	Query []string `yaml:"query,omitempty"`

	// Expect specifies the expected outcome of the step.
	// If nil, the step only needs to complete without error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected inference error code, e.g.
	// PRECONDITION_VIOLATION. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Likelihood is the expected probability of the evidence.
	Likelihood *float64 `yaml:"likelihood,omitempty"`

	// LogLikelihood is the expected log probability of the evidence.
	LogLikelihood *float64 `yaml:"log_likelihood,omitempty"`

	// Beliefs maps variable names to expected posteriors. Subset match:
	// only listed variables are checked.
	Beliefs map[string][]float64 `yaml:"beliefs,omitempty"`

	// Tolerance bounds the absolute error of every numeric comparison.
	// Defaults to DefaultTolerance.
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// DefaultTolerance is the absolute tolerance of numeric expectations.
const DefaultTolerance = 1e-9

// Assertion validates the trace across steps.
type Assertion struct {
	// Type specifies the assertion type:
	// - "beliefs_equal": the beliefs of Variables agree across Steps
	// - "likelihood_equal": the likelihoods of Steps agree
	// - "focused_count": step Step propagated over Count cliques
	// - "out_of_scope": Variables were outside the range of step Step
	Type string `yaml:"type"`

	// Step is the step index (used by focused_count, out_of_scope).
	Step int `yaml:"step,omitempty"`

	// Steps are the compared step indices (used by beliefs_equal,
	// likelihood_equal).
	Steps []int `yaml:"steps,omitempty"`

	// Variables are the variables involved (used by beliefs_equal,
	// out_of_scope).
	Variables []string `yaml:"variables,omitempty"`

	// Count is the expected number of focused cliques (used by
	// focused_count). Zero means the whole tree.
	Count int `yaml:"count,omitempty"`

	// Tolerance bounds numeric comparisons. Defaults to DefaultTolerance.
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// Assertion type constants.
const (
	AssertBeliefsEqual    = "beliefs_equal"
	AssertLikelihoodEqual = "likelihood_equal"
	AssertFocusedCount    = "focused_count"
	AssertOutOfScope      = "out_of_scope"
)

// LoadScenario reads and parses a scenario YAML file. The model path is
// resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the model path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML, resolving the model path relative to
// basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve model path BEFORE validation
	if scenario.Model != "" && !filepath.IsAbs(scenario.Model) && basePath != "" {
		scenario.Model = filepath.Join(basePath, scenario.Model)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Model == "" {
		return fmt.Errorf("model is required")
	}
	if _, err := os.Stat(s.Model); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.Model)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if len(step.Evidence) > 0 && len(step.Positives) > 0 {
			return fmt.Errorf("steps[%d]: evidence and positives are mutually exclusive", i)
		}
		if step.Restricted && len(s.TopLevel) == 0 {
			return fmt.Errorf("steps[%d]: restricted steps require top_level", i)
		}
		if step.Expect != nil && step.Expect.Tolerance < 0 {
			return fmt.Errorf("steps[%d].expect: tolerance must be non-negative", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps)); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	inRange := func(i int) bool { return i >= 0 && i < steps }

	switch a.Type {
	case AssertBeliefsEqual, AssertLikelihoodEqual:
		if len(a.Steps) < 2 {
			return fmt.Errorf("assertions[%d]: at least two steps are required for %s", index, a.Type)
		}
		for _, i := range a.Steps {
			if !inRange(i) {
				return fmt.Errorf("assertions[%d]: step %d out of range", index, i)
			}
		}
		if a.Type == AssertBeliefsEqual && len(a.Variables) == 0 {
			return fmt.Errorf("assertions[%d]: variables list is required for beliefs_equal", index)
		}
	case AssertFocusedCount:
		if !inRange(a.Step) {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertOutOfScope:
		if !inRange(a.Step) {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
		if len(a.Variables) == 0 {
			return fmt.Errorf("assertions[%d]: variables list is required for out_of_scope", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Tolerance < 0 {
		return fmt.Errorf("assertions[%d]: tolerance must be non-negative", index)
	}
	return nil
}
