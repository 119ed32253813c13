package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts call sessions by kind (emergency|standard).
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_sessions_created_total",
			Help: "Total number of call sessions created",
		},
		[]string{"kind"},
	)

	// ActiveCalls tracks sessions currently in RINGING or ACTIVE state.
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifeline_active_calls",
			Help: "Number of live call sessions",
		},
	)

	// Escalations counts timeout-driven escalations by the level reached.
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_escalations_total",
			Help: "Total number of escalation advances",
		},
		[]string{"level"},
	)

	// SessionsAbandoned counts sessions that exhausted the escalation chain.
	SessionsAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifeline_sessions_abandoned_total",
			Help: "Total number of sessions abandoned after exhausting escalation",
		},
	)

	// RelayMessages counts signaling payloads relayed between participants.
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_relay_messages_total",
			Help: "Total signaling messages relayed",
		},
		[]string{"result"},
	)

	// RecordingDecisions counts recording authority verdicts (allow|deny) per operation.
	RecordingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifeline_recording_decisions_total",
			Help: "Total recording authorization decisions",
		},
		[]string{"operation", "result"},
	)

	// AuditWriteFailures counts failed audit appends (each one also fails its operation).
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifeline_audit_write_failures_total",
			Help: "Total audit append failures",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifeline_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
