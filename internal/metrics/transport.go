package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently live transport connections.
	ConnectionsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Number of currently active transport connections",
		},
		[]string{"transport"}, // lan, cloud
	)

	// SendAttempts tracks TransportManager.Send outcomes per branch.
	SendAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_attempts_total",
			Help:      "Total number of per-branch send attempts",
		},
		[]string{"transport", "status"}, // status: success, failure
	)

	// SendWinner tracks which transport branch won a dual-send race.
	SendWinner = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_winner_total",
			Help:      "Total number of sends that succeeded, by winning transport",
		},
		[]string{"transport"}, // lan, cloud, none
	)

	// PinningFailures tracks TLS certificate pinning failures.
	PinningFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "pinning_failures_total",
			Help:      "Total number of cloud relay certificate pinning failures",
		},
		[]string{"host"},
	)

	// RoundTripDuration tracks envelope round-trip time from send to echo.
	RoundTripDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "round_trip_duration_seconds",
			Help:      "Round-trip duration between an outbound send and its observed echo",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~164s
		},
		[]string{"transport"},
	)
)
