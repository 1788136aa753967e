// Package reconcile owns execution of planned change-sets against the
// cluster:
//   - ordered apply of creates, updates, and deletes
//   - bounded retry with exponential backoff on transient failures
//   - per-resource bookkeeping writes so restarts resume cleanly
//   - sync operation lifecycle records for history and reporting
//
// The reconciler never plans; it takes a change-set from the diff package
// and makes the cluster match it, one resource at a time.
package reconcile
