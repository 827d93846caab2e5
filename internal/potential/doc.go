// Package potential implements discrete variables and the non-negative tables
// ("potentials") defined over them.
//
// A Potential is immutable once constructed. Every operation returns a new
// table, which lets propagation state be snapshotted and restored by copying
// pointers instead of cells.
//
// # Layout
//
// Variables are kept sorted by ID. Cells are stored row-major with the last
// variable varying fastest, so a potential over (A, B) with cardinalities
// (2, 3) stores cells in the order
//
//	(a0,b0) (a0,b1) (a0,b2) (a1,b0) (a1,b1) (a1,b2)
//
// A potential over no variables is a scalar with exactly one cell.
package potential
