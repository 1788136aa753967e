// Package health owns resource and application health assessment.
//
// Ownership boundary:
// - kind-specific live-state health rules
//
// - worst-status aggregation to application level
//
// Health is advisory: it informs rollouts and reporting but never blocks
// reconciliation.
package health
