/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"time"

	"github.com/acronis/go-jobthrottle/log"
	"github.com/acronis/go-jobthrottle/service"
)

// NewRollupWorker returns a worker that rolls up all keys of the counters every interval.
// Rollup errors are logged and don't stop the worker.
func NewRollupWorker(tc *TimeCounters, interval time.Duration) *service.PeriodicWorker {
	return service.NewPeriodicWorkerWithOpts(
		service.WorkerFunc(tc.RollupAll), interval, tc.logger.With(log.String("prefix", tc.prefix)),
		service.PeriodicWorkerOpts{Clock: tc.clock})
}
