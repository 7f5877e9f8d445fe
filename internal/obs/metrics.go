package obs

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// requestsOK and requestsErr are plain atomic counters backing
	// the plaintext /metrics lines, alongside the richer Prometheus
	// vector below.
	requestsOK  uint64
	requestsErr uint64

	inferLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eig",
		Name:      "infer_latency_ms",
		Help:      "Inference request latency in milliseconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
	})

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eig",
			Name:      "requests_total",
			Help:      "Total gateway requests by terminal status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(inferLatency, requestsTotal)
}

// RecordSuccess increments the success counters and observes the
// request's latency in milliseconds.
func RecordSuccess(latencyMS float64) {
	atomic.AddUint64(&requestsOK, 1)
	inferLatency.Observe(latencyMS)
	requestsTotal.WithLabelValues("ok").Inc()
}

// RecordError increments the error counters, labeled by the wire
// status code that was sent back (status 0, used when the connection
// died before any response could be written, is labeled "error").
func RecordError(status uint32) {
	atomic.AddUint64(&requestsErr, 1)
	requestsTotal.WithLabelValues(statusLabel(status)).Inc()
}

func statusLabel(status uint32) string {
	switch status {
	case 1:
		return "protocol_error"
	case 2:
		return "unknown_model"
	case 3:
		return "shape_mismatch"
	case 4:
		return "inference_failed"
	default:
		return "error"
	}
}

// Snapshot returns the current values of the two plain request/error
// counters.
func Snapshot() (ok, errs uint64) {
	return atomic.LoadUint64(&requestsOK), atomic.LoadUint64(&requestsErr)
}
