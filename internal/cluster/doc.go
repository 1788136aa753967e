// Package cluster owns the execution-cluster boundary.
//
// Ownership boundary:
// - apply/delete/list/watch contract against one destination
//
// - transient vs. terminal failure classification for callers
//
// The engine never interprets scheduler internals; everything behind this
// boundary is consumed through the Interface contract.
package cluster
