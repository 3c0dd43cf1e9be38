/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/acronis/go-jobthrottle/log"
)

// ErrQueueRunning is returned when handlers are registered after the queue has been started.
var ErrQueueRunning = errors.New("queue is already running")

// MemoryQueueOpts represents options for MemoryQueue.
type MemoryQueueOpts struct {
	Clock  clockwork.Clock
	Logger log.FieldLogger

	// OnJobFinished is called when a job is completed or failed permanently.
	OnJobFinished func(job *Job, state JobState)
}

type handler struct {
	fn          ProcessFunc
	concurrency int
}

// MemoryQueue is an in-process job queue. Jobs are processed by a pool of workers per job name
// started by Run. Failed attempts are retried according to the job's backoff strategy,
// delays are scheduled on the clock.
type MemoryQueue struct {
	name          string
	clock         clockwork.Clock
	logger        log.FieldLogger
	onJobFinished func(job *Job, state JobState)

	mu         sync.Mutex
	waiting    map[string][]*Job
	handlers   map[string]handler
	strategies map[string]BackoffStrategy
	timers     map[string]clockwork.Timer
	wake       chan struct{}
	paused     bool
	running    bool
	stopped    bool

	waitingCount   atomic.Int64
	activeCount    atomic.Int64
	delayedCount   atomic.Int64
	completedCount atomic.Int64
	failedCount    atomic.Int64
}

// NewMemoryQueue creates a new MemoryQueue.
func NewMemoryQueue(name string, opts MemoryQueueOpts) *MemoryQueue {
	q := &MemoryQueue{
		name:          name,
		clock:         opts.Clock,
		logger:        opts.Logger,
		onJobFinished: opts.OnJobFinished,
		waiting:       make(map[string][]*Job),
		handlers:      make(map[string]handler),
		strategies:    make(map[string]BackoffStrategy),
		timers:        make(map[string]clockwork.Timer),
		wake:          make(chan struct{}),
	}
	if q.clock == nil {
		q.clock = clockwork.NewRealClock()
	}
	if q.logger == nil {
		q.logger = log.NewDisabledLogger()
	}
	q.logger = q.logger.With(log.String("queue", name))
	return q
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Add enqueues a new job.
func (q *MemoryQueue) Add(_ context.Context, name string, data map[string]interface{}, opts AddOptions) (*Job, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	job := &Job{ID: xid.New().String(), Name: name, Data: data, Opts: opts, CreatedAt: q.clock.Now()}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, errors.New("queue is stopped")
	}
	q.pushLocked(job)
	return job, nil
}

// Process registers a handler for jobs with the given name. It must be called before Run.
func (q *MemoryQueue) Process(name string, concurrency int, fn ProcessFunc) error {
	if concurrency < 1 {
		return fmt.Errorf("concurrency should be >= 1, got %d", concurrency)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrQueueRunning
	}
	if _, ok := q.handlers[name]; ok {
		return fmt.Errorf("handler for %q jobs is already registered", name)
	}
	q.handlers[name] = handler{fn: fn, concurrency: concurrency}
	return nil
}

// SetBackoffStrategy registers a custom backoff strategy used by jobs with Opts.Backoff.Type equal to name.
func (q *MemoryQueue) SetBackoffStrategy(name string, strategy BackoffStrategy) error {
	if name == BackoffFixed || name == BackoffExponential || name == "" {
		return fmt.Errorf("backoff strategy name %q is reserved", name)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.strategies[name] = strategy
	return nil
}

// Pause stops workers from taking new jobs. Active jobs are not interrupted.
func (q *MemoryQueue) Pause(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused {
		q.paused = true
		q.logger.Info("queue is paused")
	}
	return nil
}

// Resume resumes taking jobs.
func (q *MemoryQueue) Resume(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		q.paused = false
		q.notifyLocked()
		q.logger.Info("queue is resumed")
	}
	return nil
}

// Counts returns the number of jobs in each state.
func (q *MemoryQueue) Counts() Counts {
	q.mu.Lock()
	paused := q.paused
	q.mu.Unlock()
	return Counts{
		Waiting:   q.waitingCount.Load(),
		Active:    q.activeCount.Load(),
		Delayed:   q.delayedCount.Load(),
		Completed: q.completedCount.Load(),
		Failed:    q.failedCount.Load(),
		Paused:    paused,
	}
}

// Run starts workers for all registered handlers and blocks until the context is done.
// Then it waits for active jobs to finish (they are not canceled) and drops scheduled retries.
func (q *MemoryQueue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrQueueRunning
	}
	q.running = true
	handlers := make(map[string]handler, len(q.handlers))
	for name, h := range q.handlers {
		handlers[name] = h
	}
	q.mu.Unlock()

	q.logger.Info("queue is running", log.Int("handlers", len(handlers)))

	var wg sync.WaitGroup
	for name, h := range handlers {
		for i := 0; i < h.concurrency; i++ {
			wg.Add(1)
			go func(name string, fn ProcessFunc) {
				defer wg.Done()
				for {
					job, ok := q.next(ctx, name)
					if !ok {
						return
					}
					q.handle(ctx, fn, job)
				}
			}(name, h.fn)
		}
	}
	wg.Wait()

	q.mu.Lock()
	q.stopped = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	dropped := q.delayedCount.Swap(0)
	q.mu.Unlock()

	q.logger.Info("queue is stopped", log.Int64("waiting", q.waitingCount.Load()), log.Int64("delayed_dropped", dropped))
	return nil
}

func (q *MemoryQueue) next(ctx context.Context, name string) (*Job, bool) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil {
			q.mu.Unlock()
			return nil, false
		}
		if jobs := q.waiting[name]; !q.paused && len(jobs) != 0 {
			job := jobs[0]
			jobs[0] = nil
			q.waiting[name] = jobs[1:]
			q.waitingCount.Dec()
			q.activeCount.Inc()
			q.mu.Unlock()
			return job, true
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-wake:
		}
	}
}

// must be called under the lock
func (q *MemoryQueue) pushLocked(job *Job) {
	q.waiting[job.Name] = append(q.waiting[job.Name], job)
	q.waitingCount.Inc()
	q.notifyLocked()
}

// must be called under the lock
func (q *MemoryQueue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *MemoryQueue) handle(ctx context.Context, fn ProcessFunc, job *Job) {
	defer q.activeCount.Dec()

	outcome, err := q.call(context.WithoutCancel(ctx), fn, job)
	if err == nil && outcome.Kind == OutcomeCompleted {
		q.finish(job, JobStateCompleted)
		return
	}

	job.AttemptsMade++
	logger := q.logger.With(log.String("job_id", job.ID), log.String("job_name", job.Name),
		log.Int("attempts_made", job.AttemptsMade))

	if job.AttemptsMade >= job.Opts.Attempts {
		q.fail(job, outcome, err, logger)
		return
	}
	strategy, strategyErr := q.strategy(job.Opts.Backoff)
	if strategyErr != nil {
		q.fail(job, outcome, strategyErr, logger)
		return
	}
	delay := strategy(job.AttemptsMade, outcome, err)
	if delay == backoff.Stop {
		q.fail(job, outcome, err, logger)
		return
	}
	if err != nil {
		logger.Warn("job attempt failed", log.Error(err), log.Duration("retry_after", delay))
	}
	q.retry(job, delay)
}

func (q *MemoryQueue) call(ctx context.Context, fn ProcessFunc, job *Job) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			q.logger.Error(fmt.Sprintf("panic in job handler: %+v", p), log.String("job_id", job.ID), log.Bytes("stack", stack))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, job)
}

func (q *MemoryQueue) strategy(opts BackoffOptions) (BackoffStrategy, error) {
	switch opts.Type {
	case "":
		return ImmediateBackoff, nil
	case BackoffFixed:
		return FixedBackoff(opts.Delay), nil
	case BackoffExponential:
		return ExponentialBackoff(opts.Delay), nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if strategy, ok := q.strategies[opts.Type]; ok {
		return strategy, nil
	}
	return nil, fmt.Errorf("unknown backoff strategy %q", opts.Type)
}

func (q *MemoryQueue) retry(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delay <= 0 {
		q.pushLocked(job)
		return
	}
	q.delayedCount.Inc()
	q.timers[job.ID] = q.clock.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.timers[job.ID]; !ok {
			return
		}
		delete(q.timers, job.ID)
		q.delayedCount.Dec()
		q.pushLocked(job)
	})
}

func (q *MemoryQueue) fail(job *Job, outcome Outcome, err error, logger log.FieldLogger) {
	switch {
	case err != nil:
		job.FailedReason = err.Error()
	case outcome.Kind == OutcomeDropped:
		job.FailedReason = ErrJobDropped.Error()
	default:
		job.FailedReason = fmt.Sprintf("attempts are exhausted with %s outcome", outcome.Kind)
	}
	logger.Warn("job failed", log.String("reason", job.FailedReason))
	q.finish(job, JobStateFailed)
}

func (q *MemoryQueue) finish(job *Job, state JobState) {
	if state == JobStateCompleted {
		q.completedCount.Inc()
	} else {
		q.failedCount.Inc()
	}
	if q.onJobFinished != nil {
		q.onJobFinished(job, state)
	}
}
