// Package store owns engine bookkeeping persistence.
//
// Ownership boundary:
// - last-applied content hashes per application
//
// - append-only sync operation history
//
// Store knows nothing about diffing or the cluster; it records what the
// reconciler tells it, resource by resource, so interrupted operations
// resume instead of restarting.
package store
