/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import "github.com/prometheus/client_golang/prometheus"

// Values of the "result" label.
const (
	CheckResultAdmitted = "admitted"
	CheckResultDelayed  = "delayed"

	RollupResultCommitted = "committed"
	RollupResultNoop      = "noop"
	RollupResultConflict  = "conflict"
)

// MetricsCollector represents a collector of metrics for time counters.
type MetricsCollector interface {
	// IncChecks increments the number of CheckAndIncrement calls with the given result.
	IncChecks(result string)

	// IncRollups increments the number of per-key rollups with the given result.
	IncRollups(result string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// PrometheusMetrics.MustCurryWith must be called further with the same labels if the list is not empty.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for time counters.
type PrometheusMetrics struct {
	ChecksTotal  *prometheus.CounterVec
	RollupsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	labelNames := append(append([]string(nil), opts.CurriedLabelNames...), "result")
	return &PrometheusMetrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "time_counter_checks_total",
				Help:        "Number of check-and-increment calls by result.",
				ConstLabels: opts.ConstLabels,
			},
			labelNames,
		),
		RollupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "time_counter_rollups_total",
				Help:        "Number of per-key rollups by result.",
				ConstLabels: opts.ConstLabels,
			},
			labelNames,
		),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		ChecksTotal:  pm.ChecksTotal.MustCurryWith(labels),
		RollupsTotal: pm.RollupsTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.ChecksTotal, pm.RollupsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.ChecksTotal)
	prometheus.Unregister(pm.RollupsTotal)
}

// IncChecks increments the number of checks with the given result.
func (pm *PrometheusMetrics) IncChecks(result string) {
	pm.ChecksTotal.With(prometheus.Labels{"result": result}).Inc()
}

// IncRollups increments the number of rollups with the given result.
func (pm *PrometheusMetrics) IncRollups(result string) {
	pm.RollupsTotal.With(prometheus.Labels{"result": result}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncChecks(string)  {}
func (disabledMetrics) IncRollups(string) {}
