// Package store provides SQLite-backed storage for feedback and factor runs.
//
// The store holds:
//   - Feedback: (entity, item, ts) positives, one row per pair
//   - Item variables: explicit item to leaf-variable mappings
//   - Runs: one record per factor computation, with its model hash
//   - Factors: user and item factor values per run, plus per-factor
//     normalization totals
//
// # Ordering
//
// Runs are ordered by created_seq, a logical sequence from a Sequencer,
// never by wall time. Every query that returns several rows orders them
// explicitly with COLLATE BINARY on text keys, so reads are identical
// across platforms.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Failed factor rows (NaN) are never written.
package store
