/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package jobqueue defines jobs, processing outcomes and backoff strategies of a retrying job queue,
// and provides MemoryQueue, an in-process implementation with a worker pool and delayed retries.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff types supported by every queue.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ErrJobDropped is recorded as the failure reason of a job finished with a Dropped outcome.
var ErrJobDropped = errors.New("job is dropped")

// BackoffOptions selects a backoff strategy for retries of the job.
// Delay is used by the fixed and exponential strategies.
type BackoffOptions struct {
	Type  string
	Delay time.Duration
}

// AddOptions represents options of a job.
type AddOptions struct {
	// Attempts is the total number of attempts before the job fails. Zero means 1.
	Attempts int
	Backoff  BackoffOptions
}

// Job is a unit of work. It's handled by exactly one worker at a time,
// so handlers may modify Data between attempts.
type Job struct {
	ID           string
	Name         string
	Data         map[string]interface{}
	Opts         AddOptions
	AttemptsMade int
	CreatedAt    time.Time
	FailedReason string
}

// OutcomeKind is a kind of processing outcome.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeDelayed
	OutcomeDropped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDelayed:
		return "delayed"
	case OutcomeDropped:
		return "dropped"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is a control signal returned by a ProcessFunc. Delayed and Dropped are not errors:
// they are passed to the job's backoff strategy which decides when (or whether) to retry.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
}

// Completed returns an outcome of successful processing.
func Completed() Outcome { return Outcome{Kind: OutcomeCompleted} }

// Delayed returns an outcome asking to retry the job after the delay.
func Delayed(delay time.Duration) Outcome { return Outcome{Kind: OutcomeDelayed, Delay: delay} }

// Dropped returns an outcome asking to fail the job permanently.
func Dropped() Outcome { return Outcome{Kind: OutcomeDropped} }

// ProcessFunc handles a job. A non-nil error or a non-completed outcome means the attempt has failed.
type ProcessFunc func(ctx context.Context, job *Job) (Outcome, error)

// JobState is a final state of a job.
type JobState string

// Final job states.
const (
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Counts is a snapshot of the number of jobs in each state.
type Counts struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
	Paused    bool
}
