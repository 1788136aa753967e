// Package scheduler owns when reconciliation runs:
//   - one worker per application, so syncs for an application never overlap
//   - trigger collapsing, pending triggers fold into the newest revision
//   - automatic versus manual trigger gating per application policy
//   - allow and deny sync windows with deferral until the next opening
//
// The scheduler decides timing only; what a sync actually does is the
// engine's callback.
package scheduler
