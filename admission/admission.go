/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-jobthrottle/jobqueue"
	"github.com/acronis/go-jobthrottle/log"
	"github.com/acronis/go-jobthrottle/timecounter"
)

// GlobalKey is a counter key of the global limit.
const GlobalKey = "global"

// BackoffType is a name of the backoff strategy registered in the backing queue.
const BackoffType = "delayable"

// MaxAttempts is a number of attempts every job is added with.
// Delays consume attempts of the backing queue, so failed attempts are counted in CountersInfo.FailedAttempts
// and limited by Options.AttemptCount.
const MaxAttempts = 900001

// Job data keys filled before the handler is called.
const (
	DataKeyCounters     = "counters"
	DataKeyCountersInfo = "countersInfo"
)

// Queue is a backing job queue.
type Queue interface {
	Add(ctx context.Context, name string, data map[string]interface{}, opts jobqueue.AddOptions) (*jobqueue.Job, error)
	Process(name string, concurrency int, fn jobqueue.ProcessFunc) error
	SetBackoffStrategy(name string, strategy jobqueue.BackoffStrategy) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Counter is a set of sliding-window counters. It's implemented by *timecounter.TimeCounters.
type Counter interface {
	CheckAndIncrement(ctx context.Context, key string) (time.Duration, error)
	CheckWithFutureIncrements(ctx context.Context, key string) (timecounter.Lookahead, error)
	IncrementCounter(ctx context.Context, key string, at time.Time, delta int64) error
	GetCounters(ctx context.Context, key string) (timecounter.Counters, error)
}

var _ Counter = (*timecounter.TimeCounters)(nil)

// GlobalLimit limits the intake of the whole queue.
type GlobalLimit struct {
	Counter Counter
}

// PerJobLimit limits jobs sharing the same identity.
type PerJobLimit struct {
	// Name identifies the limit in job data and logs.
	Name string

	Counter Counter

	// GetID extracts the counter key from the job.
	GetID func(job *jobqueue.Job) (string, error)

	// DropCondition is a window size starting from which a job is dropped instead of being delayed.
	DropCondition time.Duration
}

// Limits is a set of limits applied by AdmissionQueue.
type Limits struct {
	Global *GlobalLimit
	PerJob []PerJobLimit
}

// Handler processes an admitted job.
type Handler func(ctx context.Context, job *jobqueue.Job) error

// CountersInfo describes the admission state of a job.
type CountersInfo struct {
	MaxDelay   time.Duration `json:"maxDelay"`
	IsDrop     bool          `json:"isDrop"`
	ReservedAt time.Time     `json:"reservedAt"`

	// FailedAttempts is a number of attempts failed with an error. Delayed attempts are not counted.
	FailedAttempts int `json:"failedAttempts"`
}

// Options represents options for AdmissionQueue.
type Options struct {
	// AttemptCount is a number of attempts failed with an error after which the job fails permanently.
	// Delays don't consume it. Default is 1.
	AttemptCount int

	Clock            clockwork.Clock
	Logger           log.FieldLogger
	Observer         Observer
	MetricsCollector MetricsCollector
}

// AdmissionQueue decorates a job queue with global and per-job limits.
type AdmissionQueue struct {
	queue        Queue
	global       *GlobalLimit
	perJob       []PerJobLimit
	attemptCount int
	clock        clockwork.Clock
	logger       log.FieldLogger
	observer     Observer
	metrics      MetricsCollector
	valve        *valve
}

// New creates a new AdmissionQueue and registers its backoff strategy in the queue.
func New(queue Queue, limits Limits, opts Options) (*AdmissionQueue, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if limits.Global != nil && limits.Global.Counter == nil {
		return nil, errors.New("counter of the global limit is required")
	}
	names := make(map[string]struct{}, len(limits.PerJob))
	for i, l := range limits.PerJob {
		if l.Name == "" {
			return nil, fmt.Errorf("name of per-job limit #%d cannot be empty", i)
		}
		if _, ok := names[l.Name]; ok {
			return nil, fmt.Errorf("per-job limit %q is duplicated", l.Name)
		}
		names[l.Name] = struct{}{}
		if l.Counter == nil {
			return nil, fmt.Errorf("counter of per-job limit %q is required", l.Name)
		}
		if l.GetID == nil {
			return nil, fmt.Errorf("id function of per-job limit %q is required", l.Name)
		}
		if l.DropCondition <= 0 {
			return nil, fmt.Errorf("drop condition of per-job limit %q should be > 0, got %s", l.Name, l.DropCondition)
		}
	}
	if opts.AttemptCount < 0 {
		return nil, fmt.Errorf("attempt count should be >= 1, got %d", opts.AttemptCount)
	}
	if opts.AttemptCount == 0 {
		opts.AttemptCount = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}

	aq := &AdmissionQueue{
		queue:        queue,
		global:       limits.Global,
		perJob:       append([]PerJobLimit(nil), limits.PerJob...),
		attemptCount: opts.AttemptCount,
		clock:        opts.Clock,
		logger:       opts.Logger,
		observer:     opts.Observer,
		metrics:      opts.MetricsCollector,
		valve:        &valve{queue: queue, clock: opts.Clock},
	}
	if err := queue.SetBackoffStrategy(BackoffType, aq.BackoffStrategy); err != nil {
		return nil, fmt.Errorf("register %q backoff strategy: %w", BackoffType, err)
	}
	return aq, nil
}

// Add checks the global limit and adds a job to the backing queue.
// While the global limit is reached, the queue is paused and the call waits.
func (aq *AdmissionQueue) Add(ctx context.Context, name string, data map[string]interface{}) (*jobqueue.Job, error) {
	if aq.global != nil {
		for {
			delay, err := aq.global.Counter.CheckAndIncrement(ctx, GlobalKey)
			if err != nil {
				return nil, fmt.Errorf("check global limit: %w", err)
			}
			if delay == 0 {
				break
			}
			aq.observer.OnGlobalDelay(delay)
			aq.metrics.IncGlobalDelays()
			if err = aq.valve.hold(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return aq.queue.Add(ctx, name, data, jobqueue.AddOptions{
		Attempts: MaxAttempts,
		Backoff:  jobqueue.BackoffOptions{Type: BackoffType},
	})
}

// Paused reports whether the intake is paused by the global limit.
func (aq *AdmissionQueue) Paused() bool {
	return aq.valve.paused()
}

// Process registers the handler wrapped with admission in the backing queue.
func (aq *AdmissionQueue) Process(name string, concurrency int, handler Handler) error {
	return aq.queue.Process(name, concurrency, aq.Wrap(handler))
}

// Wrap makes a queue callback that admits, delays or drops a job before calling the handler.
// Errors of the handler are returned unchanged.
func (aq *AdmissionQueue) Wrap(handler Handler) jobqueue.ProcessFunc {
	return func(ctx context.Context, job *jobqueue.Job) (jobqueue.Outcome, error) {
		decision, err := aq.Admit(ctx, job)
		if err != nil {
			return aq.failAttempt(job, err)
		}
		aq.observer.OnDecision(job, decision)
		aq.metrics.IncDecisions(decision.Kind)
		if decision.Kind != DecisionAdmit {
			return decision.Outcome(), nil
		}
		if err = handler(ctx, job); err != nil {
			return aq.failAttempt(job, err)
		}
		return jobqueue.Completed(), nil
	}
}

// failAttempt counts the failed attempt in job data. The job is dropped when AttemptCount attempts have failed.
func (aq *AdmissionQueue) failAttempt(job *jobqueue.Job, err error) (jobqueue.Outcome, error) {
	if job.Data == nil {
		job.Data = make(map[string]interface{})
	}
	info, _ := job.Data[DataKeyCountersInfo].(CountersInfo)
	info.FailedAttempts++
	job.Data[DataKeyCountersInfo] = info
	if info.FailedAttempts >= aq.attemptCount {
		return jobqueue.Dropped(), err
	}
	return jobqueue.Completed(), err
}

// Admit decides whether the job attempt may run now.
// The first attempt reserves a slot in every per-job counter. Later attempts wait for the reservation time.
func (aq *AdmissionQueue) Admit(ctx context.Context, job *jobqueue.Job) (Decision, error) {
	if job.Data == nil {
		job.Data = make(map[string]interface{})
	}
	now := aq.clock.Now()

	info, _ := job.Data[DataKeyCountersInfo].(CountersInfo)
	if info.ReservedAt.IsZero() {
		reserved, err := aq.reserve(ctx, job, now)
		if err != nil {
			return Decision{}, err
		}
		reserved.FailedAttempts = info.FailedAttempts
		info = reserved
		job.Data[DataKeyCountersInfo] = info
		if info.IsDrop {
			return Drop(), nil
		}
		aq.metrics.ObserveReservationDelay(info.MaxDelay)
		if info.MaxDelay > 0 {
			return Delay(info.MaxDelay), nil
		}
	}

	delay := info.ReservedAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	counters, err := aq.snapshot(ctx, job)
	if err != nil {
		return Decision{}, err
	}
	info.MaxDelay = delay
	job.Data[DataKeyCounters] = counters
	job.Data[DataKeyCountersInfo] = info
	if delay > 0 {
		return Delay(delay), nil
	}
	return Admit(), nil
}

type reservation struct {
	limit     PerJobLimit
	id        string
	lookahead timecounter.Lookahead
}

func (aq *AdmissionQueue) reserve(ctx context.Context, job *jobqueue.Job, now time.Time) (CountersInfo, error) {
	reservations := make([]reservation, len(aq.perJob))
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range aq.perJob {
		i := i
		eg.Go(func() error {
			l := aq.perJob[i]
			id, err := l.GetID(job)
			if err != nil {
				return fmt.Errorf("get id for %q limit: %w", l.Name, err)
			}
			la, err := l.Counter.CheckWithFutureIncrements(egCtx, id)
			if err != nil {
				return fmt.Errorf("check %q limit: %w", l.Name, err)
			}
			reservations[i] = reservation{limit: l, id: id, lookahead: la}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return CountersInfo{}, err
	}

	var info CountersInfo
	for _, r := range reservations {
		if r.lookahead.Interval > 0 && r.lookahead.Interval >= r.limit.DropCondition {
			info.IsDrop = true
		}
		if r.lookahead.Delay > info.MaxDelay {
			info.MaxDelay = r.lookahead.Delay
		}
	}
	if info.IsDrop {
		return info, nil
	}

	at := now.Add(info.MaxDelay)
	for i, r := range reservations {
		if err := r.limit.Counter.IncrementCounter(ctx, r.id, at, 1); err != nil {
			aq.compensate(ctx, job, reservations[:i], at)
			return CountersInfo{}, fmt.Errorf("reserve %q limit: %w", r.limit.Name, err)
		}
	}
	info.ReservedAt = at
	return info, nil
}

func (aq *AdmissionQueue) compensate(ctx context.Context, job *jobqueue.Job, done []reservation, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range done {
		if err := r.limit.Counter.IncrementCounter(ctx, r.id, at, -1); err != nil {
			aq.observer.OnCompensationError(job, r.limit.Name, err)
		}
	}
}

func (aq *AdmissionQueue) snapshot(ctx context.Context, job *jobqueue.Job) (map[string]timecounter.Counters, error) {
	res := make(map[string]timecounter.Counters, len(aq.perJob))
	for _, l := range aq.perJob {
		id, err := l.GetID(job)
		if err != nil {
			return nil, fmt.Errorf("get id for %q limit: %w", l.Name, err)
		}
		counters, err := l.Counter.GetCounters(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get counters of %q limit: %w", l.Name, err)
		}
		res[l.Name] = counters
	}
	return res, nil
}

// BackoffStrategy maps an attempt outcome to the retry delay.
// Delayed attempts wait for their delay. Dropped jobs (including jobs that exhausted AttemptCount)
// and jobs that made MaxAttempts attempts are stopped. Other errors are retried immediately.
func (aq *AdmissionQueue) BackoffStrategy(attemptsMade int, outcome jobqueue.Outcome, err error) time.Duration {
	switch outcome.Kind {
	case jobqueue.OutcomeDelayed:
		if err == nil {
			return outcome.Delay
		}
	case jobqueue.OutcomeDropped:
		return backoff.Stop
	}
	if attemptsMade >= MaxAttempts {
		return backoff.Stop
	}
	return 0
}
