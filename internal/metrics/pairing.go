package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PairingAttempts tracks pairing attempts by flow and role.
	PairingAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "attempts_total",
			Help:      "Total number of pairing attempts",
		},
		[]string{"flow", "role"}, // flow: lan, relay_code; role: initiator, responder
	)

	// PairingCompleted tracks completed pairing attempts.
	PairingCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "completed_total",
			Help:      "Total number of completed pairing attempts",
		},
		[]string{"flow"},
	)

	// PairingFailed tracks failed pairing attempts by reason.
	PairingFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "failed_total",
			Help:      "Total number of failed pairing attempts by reason",
		},
		[]string{"reason"}, // bad_auth, malformed, time_skew, replay, store, encrypt, marshal, derive, rand, ephemeral_keygen
	)

	// PairingDuration tracks pairing step durations.
	PairingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "step_duration_seconds",
			Help:      "Pairing step duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"step"}, // challenge, respond, complete
	)
)
