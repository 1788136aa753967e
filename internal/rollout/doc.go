// Package rollout owns progressive delivery of one workload revision:
//   - a staged traffic-weight state machine with dwell between steps
//   - analysis verdict handling with a consecutive-failure threshold
//   - abort to zero weight from any live state, safe to repeat
//   - manual pause, resume, promote, and abort taking precedence over
//     automated judgment
//
// Within one rollout the canary weight only ever rises; the single
// exception is abort, which drops it straight to zero.
package rollout
