// Package harness provides conformance testing for latent tree models.
//
// The harness compiles a CUE model, runs a sequence of inference steps on a
// single engine and checks the posteriors and likelihoods each step
// produced.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	model: ../models/star.cue
//	model_name: Star            # optional, defaults to the first model
//	top_level: [Z]              # required by restricted steps
//	steps:
//	  - evidence: { X1: 1 }
//	    expect:
//	      likelihood: 0.5
//	      beliefs: { Z: [0.2, 0.8] }
//	  - positives: [X1]         # X1 = 1, every other leaf = 0
//	    restricted: true
//	  - evidence: { X1: 7 }
//	    expect:
//	      error: PRECONDITION_VIOLATION
//	assertions:
//	  - type: beliefs_equal
//	    steps: [1, 3]
//	    variables: [Z]
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - beliefs_equal: the listed variables have the same posterior in every listed step
//   - likelihood_equal: the listed steps computed the same log-likelihood
//   - focused_count: a step propagated over exactly N cliques
//   - out_of_scope: the listed variables fell outside a restricted step's range
//
// # Determinism
//
// Steps run sequentially on one engine, so a scenario also checks that no
// state leaks from one query into the next. Golden snapshots round every
// number to GoldenPrecision decimals and serialize with ir.MarshalCanonical.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/star.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
