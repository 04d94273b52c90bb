// Package metrics provides the kernel's Prometheus instrumentation and
// the HTTP server exposing it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kernel-wide metrics. Registered once via promauto; every team run
// shares the same registry.
var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_ticks_total",
		Help: "Total heartbeat ticks emitted across task runs",
	})

	MessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_messages_routed_total",
		Help: "Total messages accepted by the bus",
	})

	AgentTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_agent_timeouts_total",
		Help: "Total liveness timeouts detected by the bus",
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hivemind_state_transitions_total",
		Help: "Agent state transitions by target state",
	}, []string{"to"})

	WarningsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_warnings_issued_total",
		Help: "Warnings issued by the accountability module",
	})

	ElectionRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hivemind_election_rounds_total",
		Help: "Completed election rounds",
	})

	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hivemind_active_agents",
		Help: "Agents currently registered on the bus",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hivemind_tick_duration_seconds",
		Help:    "Wall-clock duration of one team tick",
		Buckets: prometheus.DefBuckets,
	})
)
