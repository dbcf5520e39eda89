package netlayer

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "netlayer"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of state transitions, labelled by source and target state.
	Transitions metrics.Counter
	// Number of transport attempts started, labelled by action.
	Attempts metrics.Counter
	// Number of attempt results discarded because a newer attempt superseded them.
	StaleResults metrics.Counter
	// Number of host migrations observed.
	Migrations metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions",
			Help:      "Number of connection state transitions.",
		}, []string{"from", "to"}),
		Attempts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "attempts",
			Help:      "Number of become_host / become_client attempts started.",
		}, []string{"action"}),
		StaleResults: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "stale_results",
			Help:      "Number of superseded attempt results that were discarded.",
		}, []string{}),
		Migrations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "migrations",
			Help:      "Number of host migrations observed.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Transitions:  discard.NewCounter(),
		Attempts:     discard.NewCounter(),
		StaleResults: discard.NewCounter(),
		Migrations:   discard.NewCounter(),
	}
}
