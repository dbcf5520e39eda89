package rendezvous

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "rendezvous"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of open rooms.
	Rooms metrics.Gauge
	// Number of peers that are members of a room.
	Peers metrics.Gauge
	// Number of successful host claims.
	Claims metrics.Counter
	// Number of host claims rejected because the room already had a host.
	Conflicts metrics.Counter
	// Number of successful joins.
	Joins metrics.Counter
	// Number of joins rejected because the room had no host.
	NotFound metrics.Counter
	// Number of rooms closed by their host leaving while members remained.
	HostLeft metrics.Counter
	// Number of relayed messages.
	Relayed metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, []string{})
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, []string{})
	}

	return &Metrics{
		Rooms:     gauge("rooms", "Number of open rooms."),
		Peers:     gauge("peers", "Number of peers in a room."),
		Claims:    counter("claims", "Number of successful host claims."),
		Conflicts: counter("conflicts", "Number of host claims rejected with room_conflict."),
		Joins:     counter("joins", "Number of successful joins."),
		NotFound:  counter("not_found", "Number of joins rejected with room_not_found."),
		HostLeft:  counter("host_left", "Number of rooms closed by host departure with members left."),
		Relayed:   counter("relayed", "Number of relayed messages."),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Rooms:     discard.NewGauge(),
		Peers:     discard.NewGauge(),
		Claims:    discard.NewCounter(),
		Conflicts: discard.NewCounter(),
		Joins:     discard.NewCounter(),
		NotFound:  discard.NewCounter(),
		HostLeft:  discard.NewCounter(),
		Relayed:   discard.NewCounter(),
	}
}
