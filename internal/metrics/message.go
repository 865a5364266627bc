package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessed tracks frames passed through the codec.
	FramesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processed_total",
			Help:      "Total number of wire frames encoded or decoded",
		},
		[]string{"direction", "status"}, // direction: encode, decode; status: success, malformed, too_large, unknown_type
	)

	// LoopDiscards tracks frames discarded as self-originated loops.
	LoopDiscards = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "loop_discards_total",
			Help:      "Total number of inbound frames discarded as a self-origin loop",
		},
	)

	// MissingKeyDiscards tracks frames discarded for lacking a per-peer key.
	MissingKeyDiscards = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "missing_key_discards_total",
			Help:      "Total number of inbound frames discarded for a missing per-peer key",
		},
	)

	// FrameProcessingDuration tracks codec encode/decode durations.
	FrameProcessingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processing_duration_seconds",
			Help:      "Frame encode/decode duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
		[]string{"direction"},
	)

	// FrameSize tracks wire frame sizes.
	FrameSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "size_bytes",
			Help:      "Wire frame size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 12), // 64B to 256MB
		},
	)
)
