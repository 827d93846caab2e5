// Package ir holds the intermediate representation of latent tree models.
//
// A ModelSpec is the plain, serializable description produced by the
// compiler: named variables with cardinalities, parent links and CPT rows.
// Build turns a spec into a Model, the indexed tree the inference engine
// works on. Variable IDs are the positions of the variables in the model spec.
//
// Key constraints:
//   - exactly one root; parent links form a tree
//   - every CPT row is a distribution over the node's states
//   - model identity is the hash of the canonical JSON of the model spec
package ir
