// Package metrics implements C11: Prometheus instrumentation for pairing,
// transport, frame-codec, and round-trip-timing observability, grounded on
// the teacher's internal/metrics package (one file per concern, a shared
// Registry and namespace, promauto-registered vectors).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name (e.g. hypo_pairing_attempts_total).
const namespace = "hypo"

// Registry is the Prometheus registry every metric in this package attaches
// to; Handler serves it, and a test binary can instantiate its own registry
// to avoid collisions across parallel test packages.
var Registry = prometheus.NewRegistry()
