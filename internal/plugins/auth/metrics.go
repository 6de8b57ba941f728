package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// Metrics exposes Prometheus collectors for auth operations.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the auth collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_auth_operations_total",
		Help: "Auth operations partitioned by operation and outcome (success or error kind).",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_auth_operation_duration_seconds",
		Help:    "Duration in seconds of auth operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registerer.MustRegister(operations, duration)
	return &Metrics{operations: operations, duration: duration}
}

// tracker records one operation call.
type tracker struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

// track starts timing an operation. A nil *Metrics yields a no-op tracker.
func (m *Metrics) track(operation string) *tracker {
	return &tracker{metrics: m, operation: operation, start: time.Now()}
}

// end records the result's outcome and duration and returns it untouched.
func (t *tracker) end(res apperror.Result) apperror.Result {
	if t.metrics == nil {
		return res
	}
	outcome := "success"
	if kind := res.Err(); kind != "" {
		outcome = kind
	}
	t.metrics.operations.WithLabelValues(t.operation, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	return res
}
