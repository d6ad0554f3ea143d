// Package metrics exposes Prometheus collectors for the cache engine and the
// file server session table. Collectors are registered on the default
// registry at init time; both roles mount Handler under /-/metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anycache_cache_lookups_total",
			Help: "Consistency checks performed on open, by result",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anycache_cache_evictions_total",
			Help: "Cache entries evicted to make room",
		},
	)

	cacheUsedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anycache_cache_used_bytes",
			Help: "Bytes on disk in the cache directory at the last reservation",
		},
	)

	cacheFetchedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anycache_cache_fetched_bytes_total",
			Help: "Bytes pulled from the file server into the cache",
		},
	)

	cachePushedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anycache_cache_pushed_bytes_total",
			Help: "Bytes pushed from private copies back to the file server",
		},
	)

	openResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anycache_open_total",
			Help: "Client open calls by mode and result code",
		},
		[]string{"mode", "result"},
	)

	openHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anycache_open_handles",
			Help: "Handles currently registered across all clients",
		},
	)

	serverSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anycache_server_sessions",
			Help: "Paths currently holding a session lock, by lock state",
		},
		[]string{"state"},
	)

	serverBlockBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anycache_server_block_bytes_total",
			Help: "Block bytes transferred by the file server, by direction",
		},
		[]string{"direction"},
	)

	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anycache_backend_operation_duration_seconds",
			Help:    "Backing store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup records the consistency check outcome of one open.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordEviction counts one evicted cache entry.
func RecordEviction() {
	cacheEvictionsTotal.Inc()
}

// SetCacheUsedBytes publishes the on-disk cache size.
func SetCacheUsedBytes(used int64) {
	cacheUsedBytes.Set(float64(used))
}

// RecordFetch adds bytes fetched from the server.
func RecordFetch(bytes int64) {
	cacheFetchedBytes.Add(float64(bytes))
}

// RecordPush adds bytes pushed to the server.
func RecordPush(bytes int64) {
	cachePushedBytes.Add(float64(bytes))
}

// RecordOpen counts an open call.
func RecordOpen(mode, result string) {
	openResultsTotal.WithLabelValues(mode, result).Inc()
}

// AddOpenHandles moves the open handle gauge by delta.
func AddOpenHandles(delta int) {
	openHandles.Add(float64(delta))
}

// AddServerSessions moves the session gauge for state by delta.
func AddServerSessions(state string, delta int) {
	serverSessions.WithLabelValues(state).Add(float64(delta))
}

// RecordServerBlock adds transferred block bytes; direction is "read" or "write".
func RecordServerBlock(direction string, bytes int) {
	serverBlockBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBackendOperation records a backing store call.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	backendOperationDuration.WithLabelValues(backend, operation, status).Observe(duration.Seconds())
}
