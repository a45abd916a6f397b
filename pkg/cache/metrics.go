package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "The total number of cache lookups",
	}, []string{
		"cache",  // Name of the cache engine.
		"status", // Either "hit" or "miss".
	})
	evictionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_evicted_entries_total",
		Help: "The total number of entries evicted to make room for new ones",
	}, []string{"cache"})
	expirationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_expired_entries_total",
		Help: "The total number of entries dropped because their TTL was over",
	}, []string{"cache"})
	persistsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_persist_total",
		Help: "The total number of snapshot writes to the backing store",
	}, []string{
		"cache",
		"result", // Either "ok" or "error".
	})
	fetchesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_fetches_total",
		Help: "The total number of fetches made on cache misses",
	}, []string{
		"cache",
		"result", // Either "ok" or "error".
	})
	entriesMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "The number of entries currently held by the cache",
	}, []string{"cache"})
)

// engineMetrics holds the metric children of one engine, so hot paths skip the label lookup.
type engineMetrics struct {
	hits, misses           prometheus.Counter
	evictions, expirations prometheus.Counter
	persistOK, persistErr  prometheus.Counter
	fetchOK, fetchErr      prometheus.Counter
	entries                prometheus.Gauge
}

func newEngineMetrics(name string) *engineMetrics {
	return &engineMetrics{
		hits:        lookupsMetric.WithLabelValues(name, "hit"),
		misses:      lookupsMetric.WithLabelValues(name, "miss"),
		evictions:   evictionsMetric.WithLabelValues(name),
		expirations: expirationsMetric.WithLabelValues(name),
		persistOK:   persistsMetric.WithLabelValues(name, "ok"),
		persistErr:  persistsMetric.WithLabelValues(name, "error"),
		fetchOK:     fetchesMetric.WithLabelValues(name, "ok"),
		fetchErr:    fetchesMetric.WithLabelValues(name, "error"),
		entries:     entriesMetric.WithLabelValues(name),
	}
}
