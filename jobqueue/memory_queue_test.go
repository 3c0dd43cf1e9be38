/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-jobthrottle/log/logtest"
)

type finishedJobs struct {
	mu   sync.Mutex
	jobs map[string]JobState
}

func (f *finishedJobs) record(job *Job, state JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = make(map[string]JobState)
	}
	f.jobs[job.ID] = state
}

func (f *finishedJobs) state(id string) JobState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func runQueue(t *testing.T, q *MemoryQueue) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func waitFinished(t *testing.T, finished *finishedJobs, id string, want JobState) {
	t.Helper()
	require.Eventually(t, func() bool { return finished.state(id) == want }, 3*time.Second, time.Millisecond)
}

func TestMemoryQueue_Process(t *testing.T) {
	finished := &finishedJobs{}
	q := NewMemoryQueue("reports", MemoryQueueOpts{OnJobFinished: finished.record})

	var handled atomic.Int32
	require.NoError(t, q.Process("build", 4, func(ctx context.Context, job *Job) (Outcome, error) {
		handled.Inc()
		require.Equal(t, "tenant-1", job.Data["tenant"])
		return Completed(), nil
	}))
	require.EqualError(t, q.Process("build", 1, nil), `handler for "build" jobs is already registered`)
	require.EqualError(t, q.Process("other", 0, nil), "concurrency should be >= 1, got 0")

	stop := runQueue(t, q)
	var ids []string
	for i := 0; i < 10; i++ {
		job, err := q.Add(context.Background(), "build", map[string]interface{}{"tenant": "tenant-1"}, AddOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, job.Opts.Attempts)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitFinished(t, finished, id, JobStateCompleted)
	}
	stop()

	require.Equal(t, int32(10), handled.Load())
	require.Equal(t, Counts{Completed: 10}, q.Counts())
	require.ErrorIs(t, q.Process("late", 1, nil), ErrQueueRunning)
	_, err := q.Add(context.Background(), "build", nil, AddOptions{})
	require.Error(t, err)
}

func TestMemoryQueue_Retries(t *testing.T) {
	errInternal := errors.New("internal error")

	t.Run("error retried until attempts are exhausted", func(t *testing.T) {
		finished := &finishedJobs{}
		logRecorder := logtest.NewRecorder()
		q := NewMemoryQueue("q", MemoryQueueOpts{OnJobFinished: finished.record, Logger: logRecorder})
		var calls atomic.Int32
		require.NoError(t, q.Process("job", 1, func(ctx context.Context, job *Job) (Outcome, error) {
			calls.Inc()
			return Completed(), errInternal
		}))
		stop := runQueue(t, q)
		defer stop()

		job, err := q.Add(context.Background(), "job", nil, AddOptions{Attempts: 3})
		require.NoError(t, err)
		waitFinished(t, finished, job.ID, JobStateFailed)
		require.Equal(t, int32(3), calls.Load())
		require.Equal(t, 3, job.AttemptsMade)
		require.Equal(t, errInternal.Error(), job.FailedReason)
		_, found := logRecorder.FindEntry("job attempt failed")
		require.True(t, found)
	})

	t.Run("panic is an ordinary error", func(t *testing.T) {
		finished := &finishedJobs{}
		q := NewMemoryQueue("q", MemoryQueueOpts{OnJobFinished: finished.record})
		require.NoError(t, q.Process("job", 1, func(ctx context.Context, job *Job) (Outcome, error) {
			panic("boom")
		}))
		stop := runQueue(t, q)
		defer stop()

		job, err := q.Add(context.Background(), "job", nil, AddOptions{})
		require.NoError(t, err)
		waitFinished(t, finished, job.ID, JobStateFailed)
		require.Equal(t, "panic: boom", job.FailedReason)
	})

	t.Run("delayed outcome is retried after the delay", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		finished := &finishedJobs{}
		q := NewMemoryQueue("q", MemoryQueueOpts{Clock: clock, OnJobFinished: finished.record})
		require.NoError(t, q.Process("job", 1, func(ctx context.Context, job *Job) (Outcome, error) {
			if job.AttemptsMade == 0 {
				return Delayed(time.Minute), nil
			}
			return Completed(), nil
		}))
		stop := runQueue(t, q)
		defer stop()

		job, err := q.Add(context.Background(), "job", nil, AddOptions{Attempts: 2})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return q.Counts().Delayed == 1 }, 3*time.Second, time.Millisecond)
		clock.BlockUntil(1)
		clock.Advance(59 * time.Second)
		require.Equal(t, int64(1), q.Counts().Delayed)
		clock.Advance(time.Second)
		waitFinished(t, finished, job.ID, JobStateCompleted)
		require.Equal(t, 1, job.AttemptsMade)
	})

	t.Run("dropped outcome fails the job", func(t *testing.T) {
		finished := &finishedJobs{}
		q := NewMemoryQueue("q", MemoryQueueOpts{OnJobFinished: finished.record})
		require.NoError(t, q.Process("job", 1, func(ctx context.Context, job *Job) (Outcome, error) {
			return Dropped(), nil
		}))
		stop := runQueue(t, q)
		defer stop()

		job, err := q.Add(context.Background(), "job", nil, AddOptions{Attempts: 10,
			Backoff: BackoffOptions{Type: BackoffFixed, Delay: time.Hour}})
		require.NoError(t, err)
		waitFinished(t, finished, job.ID, JobStateFailed)
		require.Equal(t, ErrJobDropped.Error(), job.FailedReason)
		require.Equal(t, 1, job.AttemptsMade)
	})

	t.Run("custom strategy", func(t *testing.T) {
		finished := &finishedJobs{}
		q := NewMemoryQueue("q", MemoryQueueOpts{OnJobFinished: finished.record})
		require.Error(t, q.SetBackoffStrategy(BackoffFixed, ImmediateBackoff))
		var attempts []int
		require.NoError(t, q.SetBackoffStrategy("twice", func(attemptsMade int, outcome Outcome, err error) time.Duration {
			attempts = append(attempts, attemptsMade)
			if attemptsMade >= 2 {
				return backoff.Stop
			}
			return 0
		}))
		require.NoError(t, q.Process("job", 1, func(ctx context.Context, job *Job) (Outcome, error) {
			return Completed(), errInternal
		}))
		stop := runQueue(t, q)
		defer stop()

		job, err := q.Add(context.Background(), "job", nil, AddOptions{Attempts: 100, Backoff: BackoffOptions{Type: "twice"}})
		require.NoError(t, err)
		waitFinished(t, finished, job.ID, JobStateFailed)
		require.Equal(t, []int{1, 2}, attempts)

		job, err = q.Add(context.Background(), "job", nil, AddOptions{Attempts: 100, Backoff: BackoffOptions{Type: "unknown"}})
		require.NoError(t, err)
		waitFinished(t, finished, job.ID, JobStateFailed)
		require.Equal(t, `unknown backoff strategy "unknown"`, job.FailedReason)
	})
}

func TestMemoryQueue_PauseResume(t *testing.T) {
	finished := &finishedJobs{}
	q := NewMemoryQueue("q", MemoryQueueOpts{OnJobFinished: finished.record})
	require.NoError(t, q.Process("job", 2, func(ctx context.Context, job *Job) (Outcome, error) {
		return Completed(), nil
	}))
	stop := runQueue(t, q)
	defer stop()

	require.NoError(t, q.Pause(context.Background()))
	job, err := q.Add(context.Background(), "job", nil, AddOptions{})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, Counts{Waiting: 1, Paused: true}, q.Counts())

	require.NoError(t, q.Resume(context.Background()))
	waitFinished(t, finished, job.ID, JobStateCompleted)
	require.False(t, q.Counts().Paused)
}

func TestMemoryQueue_Shutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	finished := &finishedJobs{}
	q := NewMemoryQueue("q", MemoryQueueOpts{Clock: clock, OnJobFinished: finished.record})
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	require.NoError(t, q.Process("slow", 1, func(ctx context.Context, job *Job) (Outcome, error) {
		close(started)
		<-release
		handlerCtxErr = ctx.Err()
		return Completed(), nil
	}))
	require.NoError(t, q.Process("delayed", 1, func(ctx context.Context, job *Job) (Outcome, error) {
		return Delayed(time.Hour), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	delayedJob, err := q.Add(context.Background(), "delayed", nil, AddOptions{Attempts: 2})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Counts().Delayed == 1 }, 3*time.Second, time.Millisecond)
	slowJob, err := q.Add(context.Background(), "slow", nil, AddOptions{})
	require.NoError(t, err)
	<-started

	cancel()
	select {
	case <-done:
		require.Fail(t, "Run should wait for active jobs")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)

	require.NoError(t, handlerCtxErr)
	require.Equal(t, JobStateCompleted, finished.state(slowJob.ID))
	require.Equal(t, JobState(""), finished.state(delayedJob.ID))
	require.Zero(t, q.Counts().Delayed)
	clock.Advance(time.Hour)
	require.Zero(t, q.Counts().Waiting)
}
