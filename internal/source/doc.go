// Package source owns desired-state ingestion.
//
// Ownership boundary:
// - versioned snapshot fetch from a source-of-truth repository
//
// - resource descriptor document parsing
//
// - revision change detection for automatic sync
//
// Source never applies anything; it hands immutable trees to the planner.
package source
