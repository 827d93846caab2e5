// Package cliquetree builds the junction tree of a latent tree model.
//
// Every model variable X gets a family clique F_X = {X, parent(X)} (just
// {X} for the root). Every latent variable L additionally gets a variable
// clique C_L = {L}. Edges connect F_X to C_parent(X) and F_L to C_L, so the
// clique graph is a tree whose separators are single variables.
//
// The Topology is immutable and shared by every engine bound to a model.
// Cliques and directed edges live in arenas indexed by int; directed edge
// e and e^1 are the two directions of one tree edge.
//
// A Tree is a cheap per-engine view of a Topology that carries the mutable
// "focused subtree" used by restricted propagation.
package cliquetree
