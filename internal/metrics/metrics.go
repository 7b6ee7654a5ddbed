package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "voicebridge"

var Transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_transitions_total",
		Help:      "Applied call status transitions by source and resulting status",
	},
	[]string{"source", "status"},
)

var IgnoredTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_transitions_ignored_total",
		Help:      "Status events dropped by the transition guard or for unknown calls",
	},
	[]string{"source", "reason"},
)

var PollOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signaling_poll_outcomes_total",
		Help:      "Results of status-check re-invocations for pending inbound calls",
	},
	[]string{"outcome"},
)

var StoreErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_store_errors_total",
		Help:      "Call store operations that failed and were treated as absent or no-op",
	},
	[]string{"op", "kind"},
)

var HistoryWrites = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_writes_total",
		Help:      "Call history write attempts by result",
	},
	[]string{"result"},
)

var CarrierRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "carrier_request_duration_seconds",
		Help:      "Latency of carrier REST requests",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
	},
	[]string{"op", "result"},
)

var ScheduledCleanups = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_cleanups",
		Help:      "Delayed record removals currently waiting to fire",
	},
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		Transitions,
		IgnoredTransitions,
		PollOutcomes,
		StoreErrors,
		HistoryWrites,
		CarrierRequestDuration,
		ScheduledCleanups,
	)
}
