/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package admission provides a job queue decorator that throttles job intake and execution
// with sliding-window time counters.
//
// A global limit is checked when a job is added. When it is reached, the whole queue is paused
// for the required delay and the producer waits before re-checking.
//
// Per-job limits are checked when a job is processed for the first time. The lookahead over future
// windows either drops the job, when the binding window is not shorter than the limit's drop condition,
// or reserves a slot at now + delay in every per-job counter. The job is then retried by the backing
// queue after the delay and runs the user handler once its reservation time has come.
package admission
