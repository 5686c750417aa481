// Package metrics provides performance tracking for the dataset core using
// Prometheus metrics: cache hit rates, materialization latency and streaming
// shard throughput. Metrics are registered once at package init through
// promauto and are safe for concurrent use.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookups tracks transform cache lookups.
	// Labels: result (hit/miss/corrupt)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasets_cache_lookups_total",
			Help: "Total number of transform cache lookups",
		},
		[]string{"result"},
	)

	// CacheWrites tracks materialized cache entries.
	// Labels: kind (table/index), status (success/failure)
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasets_cache_writes_total",
			Help: "Total number of cache entries written",
		},
		[]string{"kind", "status"},
	)

	// ComputeLatency tracks transform materialization latency in seconds.
	// Labels: transform (map/filter/sort/...)
	ComputeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datasets_compute_latency_seconds",
			Help:    "Transform materialization latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"transform"},
	)

	// CacheBytes tracks bytes written into the cache directory.
	CacheBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasets_cache_bytes_total",
			Help: "Total bytes materialized into the cache",
		},
		[]string{"kind"},
	)

	// ShardsFetched tracks streaming shard fetches.
	// Labels: status (success/fetch_error/decode_error)
	ShardsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasets_shards_fetched_total",
			Help: "Total number of streaming shards fetched",
		},
		[]string{"status"},
	)

	// ShardFetchLatency tracks the shard fetch+decode latency in seconds.
	ShardFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasets_shard_fetch_latency_seconds",
			Help:    "Shard fetch latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	// RecordsStreamed tracks records yielded by streaming iterators.
	RecordsStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datasets_records_streamed_total",
			Help: "Total number of records yielded by streaming iterators",
		},
	)

	// OpenMappings tracks currently open memory mappings.
	OpenMappings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasets_open_mappings",
			Help: "Number of currently open table memory mappings",
		},
	)
)

// Handler returns an HTTP handler exposing the registered metrics in the
// Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a single operation duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveCompute records the elapsed time into ComputeLatency.
func (t *Timer) ObserveCompute(transform string) time.Duration {
	d := time.Since(t.start)
	ComputeLatency.WithLabelValues(transform).Observe(d.Seconds())
	return d
}

// ObserveShardFetch records the elapsed time into ShardFetchLatency.
func (t *Timer) ObserveShardFetch() time.Duration {
	d := time.Since(t.start)
	ShardFetchLatency.Observe(d.Seconds())
	return d
}
