// Package engine implements exact inference over latent tree models.
//
// The engine runs Shafer-Shenoy sum-product message passing on the junction
// tree built by package cliquetree. It answers posterior (belief) and
// likelihood queries for one evidence assignment at a time.
//
// ARCHITECTURE:
//
// Session:
// A Session is built once per model. It owns the immutable topology, the
// restriction index for the configured top-level variables and the default
// message snapshot. Sessions are safe for concurrent use; there is no
// package-level state, so several models can be loaded side by side.
//
// Engine:
// An Engine holds the mutable per-query state: evidence, one local potential
// per clique, one message with a linear and a log normalization constant per
// directed edge, and a cached product of qualified incoming messages per
// variable clique. An Engine must be owned by one goroutine at a time; the
// pool package hands engines out.
//
// Propagation:
// Propagate absorbs evidence into the family cliques, then collects messages
// toward the working pivot (post-order) and distributes them back out
// (pre-order). Both passes use an explicit stack. Every message is
// normalized to sum one; the removed mass, multiplied by the normalization
// of every message it was computed from, is stored on the edge both
// linearly and as a logarithm. Likelihood is reconstructed at the pivot.
//
// Restricted propagation:
// For positive-only evidence over the leaves, only the cliques near the
// positive leaves see evidence that differs from the all-zero baseline.
// FindAndSetPropagationRange focuses the tree on those cliques and
// Propagate then recomputes only their messages; every message entering the
// focused subtree is the baseline message from the default snapshot.
// ResetMessages restores the touched cliques from the snapshot. The caller
// must reset before the next restricted query on the same engine.
//
// State machine:
//
//	Idle -> SetEvidence -> EvidenceSet -> Propagate -> Propagated
//	Propagated -> FindAndSetPropagationRange -> EvidenceSet (restricted)
//	restricted -> Propagate -> Propagated (restricted) -> ResetMessages -> Idle
package engine
