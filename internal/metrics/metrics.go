package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsStarted counts manifest builds launched on cache misses.
	BuildsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "manifest_builds_started_total",
		Help: "Number of manifest builds started",
	})

	// BuildDuration observes completed build durations.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manifest_build_duration_seconds",
		Help:    "Duration of completed manifest builds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// CacheHits counts manifest resolutions served from the cache.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifest_cache_hits_total",
		Help: "Number of manifest cache hits, by manifest state",
	}, []string{"state"})

	// ConnectorFailures counts connector-scoped query failures.
	ConnectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifest_connector_failures_total",
		Help: "Number of failed connector queries",
	}, []string{"connector"})
)
