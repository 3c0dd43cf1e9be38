/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"time"

	"github.com/acronis/go-jobthrottle/jobqueue"
	"github.com/acronis/go-jobthrottle/log"
)

// Observer is notified about admission events.
type Observer interface {
	// OnGlobalDelay is called when a producer is held because the global limit is reached.
	OnGlobalDelay(delay time.Duration)

	// OnDecision is called for every processed job attempt.
	OnDecision(job *jobqueue.Job, decision Decision)

	// OnCompensationError is called when a reservation cannot be reverted after a store failure.
	OnCompensationError(job *jobqueue.Job, limit string, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

// OnGlobalDelay does nothing.
func (NopObserver) OnGlobalDelay(time.Duration) {}

// OnDecision does nothing.
func (NopObserver) OnDecision(*jobqueue.Job, Decision) {}

// OnCompensationError does nothing.
func (NopObserver) OnCompensationError(*jobqueue.Job, string, error) {}

// LoggingObserver logs admission events.
type LoggingObserver struct {
	Logger log.FieldLogger
}

// NewLoggingObserver creates a new LoggingObserver.
func NewLoggingObserver(logger log.FieldLogger) *LoggingObserver {
	return &LoggingObserver{Logger: logger}
}

// OnGlobalDelay logs the delay at info level.
func (o *LoggingObserver) OnGlobalDelay(delay time.Duration) {
	o.Logger.Info("global limit is reached, queue intake is paused", log.Duration("delay", delay))
}

// OnDecision logs delays and drops. Admits are logged at debug level.
func (o *LoggingObserver) OnDecision(job *jobqueue.Job, decision Decision) {
	fields := []log.Field{
		log.String("job_id", job.ID),
		log.String("job_name", job.Name),
		log.String("decision", decision.Kind.String()),
	}
	switch decision.Kind {
	case DecisionDrop:
		o.Logger.Warn("job is dropped by per-job limits", fields...)
	case DecisionDelay:
		o.Logger.Info("job is delayed by per-job limits", append(fields, log.Duration("delay", decision.Delay))...)
	default:
		o.Logger.Debug("job is admitted", fields...)
	}
}

// OnCompensationError logs the error.
func (o *LoggingObserver) OnCompensationError(job *jobqueue.Job, limit string, err error) {
	o.Logger.Error("failed to revert reservation", log.String("job_id", job.ID),
		log.String("limit", limit), log.Error(err))
}
