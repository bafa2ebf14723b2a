package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors
type Metrics struct {
	delegated      *prometheus.CounterVec
	finished       *prometheus.CounterVec
	dispatchErrors prometheus.Counter
	inFlight       prometheus.Gauge
	activeWorkers  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		delegated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "orchestrator",
				Name:      "tasks_delegated_total",
				Help:      "Tasks handed to a worker, by capability",
			},
			[]string{"capability"},
		),
		finished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "orchestrator",
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal state, by status",
			},
			[]string{"status"},
		),
		dispatchErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "orchestrator",
				Name:      "dispatch_errors_total",
				Help:      "Task envelopes the transport refused",
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nexus",
				Subsystem: "orchestrator",
				Name:      "tasks_in_flight",
				Help:      "Tasks in PENDING or RUNNING",
			},
		),
		activeWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nexus",
				Subsystem: "orchestrator",
				Name:      "workers_active",
				Help:      "Registered workers in ACTIVE state",
			},
		),
	}
}
