// Package state owns the engine data model.
//
// Ownership boundary:
// - resource identity and descriptor shapes
//
// - content-addressed revision hashing
//
// - application, sync-operation, and managed-resource records
//
// State does not talk to the source store or the cluster.
package state
