/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs long-living parts of a process (job queue workers, rollup workers, HTTP servers)
// as units with a common lifecycle and stops them gracefully by OS signal.
package service

// Unit is a distinct component of a service with its own lifecycle.
type Unit interface {
	// Start runs the unit. It may return immediately after initialization or block for the unit's lifetime.
	// A failure is reported by sending an error to fatalErr, which must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that own Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
