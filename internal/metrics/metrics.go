package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrisk_attempts_recorded_total",
			Help: "Total number of authentication attempts recorded",
		},
		[]string{"type", "outcome"},
	)

	ClientsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrisk_clients_blocked_total",
			Help: "Total number of rate limit blocks imposed",
		},
		[]string{"type"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrisk_anomalies_detected_total",
			Help: "Total number of anomaly detections created",
		},
		[]string{"type"},
	)

	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrisk_alerts_dispatched_total",
			Help: "Total number of security alerts dispatched",
		},
		[]string{"severity"},
	)

	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authrisk_alerts_deduplicated_total",
			Help: "Total number of alerts merged into an existing alert",
		},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authrisk_scoring_duration_seconds",
			Help:    "Time taken to score a login attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	BookkeepingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authrisk_bookkeeping_failures_total",
			Help: "Total number of rate limit updates dropped after retry exhaustion",
		},
	)
)
