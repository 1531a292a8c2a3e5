// Package metrics defines the Prometheus collectors exposed by a running
// broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the broker registers. A process
// constructs exactly one Metrics and shares it across every Frame, since
// promauto registers each collector with the default registry once;
// constructing a second Metrics would panic on duplicate registration.
type Metrics struct {
	queueDepth   *prometheus.GaugeVec
	poolSize     *prometheus.GaugeVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheBytes   prometheus.Gauge
	transitions  *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
}

// New registers and returns a fresh Metrics instance.
func New() *Metrics {
	return &Metrics{
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "elude_queue_depth",
				Help: "Number of requests currently queued, by frame.",
			},
			[]string{"frame"},
		),

		poolSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "elude_proxy_pool_size",
				Help: "Number of proxies currently running a Worker, by frame.",
			},
			[]string{"frame"},
		),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elude_cache_hits_total",
			Help: "Total number of response cache hits.",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elude_cache_misses_total",
			Help: "Total number of response cache misses.",
		}),

		cacheBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elude_cache_bytes",
			Help: "Cumulative cached response body size in bytes.",
		}),

		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elude_worker_transitions_total",
				Help: "Proxy Worker state transitions, by destination state.",
			},
			[]string{"state"},
		),

		fetchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "elude_fetch_duration_seconds",
				Help:    "Outbound fetch duration in seconds, by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// SetQueueDepth records frame's current queue depth.
func (m *Metrics) SetQueueDepth(frame string, depth int) {
	m.queueDepth.WithLabelValues(frame).Set(float64(depth))
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// SetCacheBytes records the cache's current cumulative body size.
func (m *Metrics) SetCacheBytes(bytes int64) { m.cacheBytes.Set(float64(bytes)) }

// SetPoolSize records frame's current number of live proxy workers.
func (m *Metrics) SetPoolSize(frame string, n int) { m.poolSize.WithLabelValues(frame).Set(float64(n)) }

// RecordTransition records a Worker entering the named state ("healthy" or
// "unhealthy").
func (m *Metrics) RecordTransition(state string) {
	m.transitions.WithLabelValues(state).Inc()
}

// ObserveFetch records one outbound fetch's duration, labeled "success" or
// "failure".
func (m *Metrics) ObserveFetch(outcome string, seconds float64) {
	m.fetchLatency.WithLabelValues(outcome).Observe(seconds)
}
