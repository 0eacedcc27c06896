// Package canary implements the canary rollout controller.
//
// A run walks a plan's phases in order. Each phase sets the traffic split,
// waits the phase duration, samples candidate metrics and decides:
//
//	abort     any abort bound crossed (or metrics unavailable); split reset to 0
//	continue  every SLO bound met; move to the next phase
//	hold      otherwise; re-sample the same phase up to maxHolds times
//	promote   final phase continues and drift is within the warning bound
//
// The run's report is archived as JSON once a terminal state is reached.
package canary
