package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the coordinator's Prometheus collectors
type Metrics struct {
	cashFlows          *prometheus.CounterVec
	outcomes           *prometheus.CounterVec
	delegationFailures prometheus.Counter
	pendingWithdrawals prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cashFlows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "coordinator",
				Name:      "cash_flows_total",
				Help:      "Processed deposits and withdrawals, by kind and result",
			},
			[]string{"kind", "status"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "coordinator",
				Name:      "task_outcomes_total",
				Help:      "Decision outcomes recorded from finished tasks",
			},
			[]string{"outcome"},
		),
		delegationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nexus",
				Subsystem: "coordinator",
				Name:      "delegation_failures_total",
				Help:      "Trades that could not be handed to a worker",
			},
		),
		pendingWithdrawals: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nexus",
				Subsystem: "coordinator",
				Name:      "withdrawals_pending",
				Help:      "Withdrawals waiting on liquidation tasks",
			},
		),
	}
}
