// Package metrics holds the Prometheus collectors of the checks service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "operator_checks"

var (
	serverInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Build and backend information.",
	}, []string{"version", "backend"})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Check cycles run, by final status.",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a check cycle from dispatch to persistence.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	ChildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_failures_total",
		Help:      "Child checks that failed or panicked.",
	}, []string{"check"})

	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_results_total",
		Help:      "Probe results by kind and threshold action.",
	}, []string{"kind", "action"})

	ProbeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_errors_total",
		Help:      "Balance fetch failures absorbed into a zero sentinel.",
	}, []string{"kind"})

	RefillsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refills_suppressed_total",
		Help:      "Refill requests skipped because a transfer was still pending.",
	}, []string{"kind"})

	RefillsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refills_dispatched_total",
		Help:      "Refill jobs enqueued.",
	}, []string{"kind"})

	RefillsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refills_executed_total",
		Help:      "Refill jobs executed by outcome.",
	}, []string{"kind", "outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Queue jobs handled by workers, by outcome.",
	}, []string{"queue", "type", "outcome"})

	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_runs_total",
		Help:      "Maintenance task runs by task and outcome.",
	}, []string{"task", "outcome"})
)

// Init publishes the server info gauge.
func Init(version, backend string) {
	serverInfo.WithLabelValues(version, backend).Set(1)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
