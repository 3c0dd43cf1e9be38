/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector represents a collector of admission metrics.
type MetricsCollector interface {
	// IncDecisions increments the number of decisions of the given kind.
	IncDecisions(kind DecisionKind)

	// IncGlobalDelays increments the number of producers held by the global limit.
	IncGlobalDelays()

	// ObserveReservationDelay observes the delay of a first-attempt reservation.
	ObserveReservationDelay(delay time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// ReservationDelayBuckets are buckets of the reservation delay histogram (in seconds).
	ReservationDelayBuckets []float64
}

// DefaultReservationDelayBuckets covers delays from one second to one day.
var DefaultReservationDelayBuckets = []float64{1, 5, 30, 60, 300, 900, 3600, 4 * 3600, 24 * 3600}

// PrometheusMetrics represents Prometheus metrics of the admission queue.
type PrometheusMetrics struct {
	DecisionsTotal   *prometheus.CounterVec
	GlobalDelays     prometheus.Counter
	ReservationDelay prometheus.Histogram
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.ReservationDelayBuckets
	if buckets == nil {
		buckets = DefaultReservationDelayBuckets
	}
	return &PrometheusMetrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_decisions_total",
			Help:        "Number of job attempt admission decisions.",
			ConstLabels: opts.ConstLabels,
		}, []string{"decision"}),
		GlobalDelays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_global_delays_total",
			Help:        "Number of times producers were held because the global limit was reached.",
			ConstLabels: opts.ConstLabels,
		}),
		ReservationDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_reservation_delay_seconds",
			Help:        "Delay between the first attempt of a job and its reserved run time.",
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.DecisionsTotal, pm.GlobalDelays, pm.ReservationDelay)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.DecisionsTotal)
	prometheus.Unregister(pm.GlobalDelays)
	prometheus.Unregister(pm.ReservationDelay)
}

// IncDecisions increments the number of decisions of the given kind.
func (pm *PrometheusMetrics) IncDecisions(kind DecisionKind) {
	pm.DecisionsTotal.WithLabelValues(kind.String()).Inc()
}

// IncGlobalDelays increments the number of global delays.
func (pm *PrometheusMetrics) IncGlobalDelays() {
	pm.GlobalDelays.Inc()
}

// ObserveReservationDelay observes the reservation delay.
func (pm *PrometheusMetrics) ObserveReservationDelay(delay time.Duration) {
	pm.ReservationDelay.Observe(delay.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(DecisionKind)             {}
func (disabledMetrics) IncGlobalDelays()                      {}
func (disabledMetrics) ObserveReservationDelay(time.Duration) {}
