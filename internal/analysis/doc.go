// Package analysis owns automated canary judgment:
//   - metric queries against pluggable time-series providers
//   - reduction and threshold checks producing per-query verdicts
//   - pass/fail aggregation under an all-must-pass or any-can-pass policy
//   - a consecutive-inconclusive budget that escalates to Fail
//
// The engine is deliberately dumb about rollouts; it answers one question,
// "does this revision look healthy right now", and the rollout controller
// decides what to do with the answer.
package analysis
