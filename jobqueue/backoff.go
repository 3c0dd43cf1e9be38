/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package jobqueue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffStrategy computes a delay before the next attempt of a failed job.
// attemptsMade includes the failed attempt. backoff.Stop fails the job permanently, zero retries it immediately.
type BackoffStrategy func(attemptsMade int, outcome Outcome, err error) time.Duration

const (
	maxExponentialSteps    = 64
	maxExponentialInterval = 24 * time.Hour
)

// controlDelay handles control outcomes in the same way for all built-in strategies.
func controlDelay(outcome Outcome) (time.Duration, bool) {
	switch outcome.Kind {
	case OutcomeDelayed:
		return outcome.Delay, true
	case OutcomeDropped:
		return backoff.Stop, true
	}
	return 0, false
}

// ImmediateBackoff retries failed jobs immediately.
func ImmediateBackoff(_ int, outcome Outcome, _ error) time.Duration {
	if d, ok := controlDelay(outcome); ok {
		return d
	}
	return 0
}

// FixedBackoff retries failed jobs after the same delay.
func FixedBackoff(delay time.Duration) BackoffStrategy {
	return func(_ int, outcome Outcome, _ error) time.Duration {
		if d, ok := controlDelay(outcome); ok {
			return d
		}
		return delay
	}
}

// ExponentialBackoff doubles the delay after every failed attempt starting from initial.
func ExponentialBackoff(initial time.Duration) BackoffStrategy {
	return func(attemptsMade int, outcome Outcome, _ error) time.Duration {
		if d, ok := controlDelay(outcome); ok {
			return d
		}
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initial
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxInterval = maxExponentialInterval
		eb.MaxElapsedTime = 0
		eb.Reset()
		var delay time.Duration
		for i := 0; i < min(attemptsMade, maxExponentialSteps); i++ {
			delay = eb.NextBackOff()
		}
		return delay
	}
}
