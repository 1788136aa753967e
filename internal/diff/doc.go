// Package diff owns change-set planning.
//
// Ownership boundary:
// - three-way desired/last-applied/live comparison
//
// - apply precedence ordering
//
// - prune/orphan and drift-conflict classification
//
// Diff never talks to the cluster; it compares trees and hashes only.
package diff
