package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits by resource
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_cache_hits_total",
			Help: "Total number of fresh cache hits",
		},
		[]string{"resource"},
	)

	// CacheMisses tracks lookups that required an upstream fetch
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"resource"},
	)

	// StaleServed tracks stale payloads served after an upstream failure
	StaleServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_cache_stale_served_total",
			Help: "Total number of stale payloads served because upstream failed",
		},
		[]string{"resource", "tier"}, // "memory", "store"
	)

	// EmptyFallbacks tracks upstream failures with nothing cached to fall back on
	EmptyFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_cache_empty_fallbacks_total",
			Help: "Total number of upstream failures without a fallback entry",
		},
		[]string{"resource"},
	)

	// NotModifiedResponses tracks 304 Not Modified decisions
	NotModifiedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_304_responses_total",
			Help: "Total number of conditional requests answered with 304 Not Modified",
		},
		[]string{"resource"},
	)

	// FetchDuration tracks upstream fetch latency by outcome
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serenissima_cache_fetch_duration_seconds",
			Help:    "Duration of upstream fetches made on cache misses",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"resource", "outcome"}, // "ok", "error"
	)

	// CacheEntries tracks the number of in-memory entries by resource
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serenissima_cache_entries",
			Help: "Current number of in-memory cache entries",
		},
		[]string{"resource"},
	)

	// StoreErrors tracks store tier operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serenissima_cache_store_errors_total",
			Help: "Total number of cache store tier errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "encode", "decode"
	)
)
