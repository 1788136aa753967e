// Package engine owns the application lifecycle end to end:
//   - registration and deregistration, with optional resource cascade
//   - one sync pass: fetch, plan, execute, reassess
//   - status aggregation across sync, health, conflicts, and rollouts
//   - rollout task wiring per configured workload
//
// Everything timing-related defers to the scheduler; everything
// cluster-facing goes through the reconciler. The engine is the only
// writer of application status.
package engine
