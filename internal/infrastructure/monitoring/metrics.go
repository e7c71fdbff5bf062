package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the gateway's Prometheus metrics. A nil *Metrics is a
// valid no-op receiver so tests can skip registration.
type Metrics struct {
	ProxiedRequests  *prometheus.CounterVec
	EnqueuedRequests *prometheus.CounterVec
	OutcomesWritten  *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	WorkerCount      prometheus.Gauge
	StreamLength     prometheus.Gauge
}

// NewMetrics creates and registers the gateway metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ProxiedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratex_proxied_requests_total",
				Help: "Requests admitted and proxied inline.",
			},
			[]string{"app_id", "strategy"},
		),
		EnqueuedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratex_enqueued_requests_total",
				Help: "Requests denied by the limiter and enqueued for deferred execution.",
			},
			[]string{"app_id", "strategy"},
		),
		OutcomesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratex_outcomes_written_total",
				Help: "Deferred-request outcomes recorded by workers.",
			},
			[]string{"status"},
		),
		UpstreamLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratex_upstream_latency_seconds",
				Help:    "Latency of upstream HTTP calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"app_id"},
		),
		WorkerCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratex_workers",
				Help: "Current number of workers on this node.",
			},
		),
		StreamLength: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratex_stream_length",
				Help: "Current length of this node's deferred-request stream.",
			},
		),
	}
}

// RecordProxied records an inline-proxied request.
func (m *Metrics) RecordProxied(appID, strategy string) {
	if m == nil {
		return
	}
	m.ProxiedRequests.WithLabelValues(appID, strategy).Inc()
}

// RecordEnqueued records a deferred request.
func (m *Metrics) RecordEnqueued(appID, strategy string) {
	if m == nil {
		return
	}
	m.EnqueuedRequests.WithLabelValues(appID, strategy).Inc()
}

// RecordOutcome records a written outcome.
func (m *Metrics) RecordOutcome(status string) {
	if m == nil {
		return
	}
	m.OutcomesWritten.WithLabelValues(status).Inc()
}

// RecordUpstreamLatency records one upstream call's duration.
func (m *Metrics) RecordUpstreamLatency(appID string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(appID).Observe(d.Seconds())
}

// SetWorkerCount updates the worker gauge.
func (m *Metrics) SetWorkerCount(n int) {
	if m == nil {
		return
	}
	m.WorkerCount.Set(float64(n))
}

// SetStreamLength updates the stream-length gauge.
func (m *Metrics) SetStreamLength(n int64) {
	if m == nil {
		return
	}
	m.StreamLength.Set(float64(n))
}
