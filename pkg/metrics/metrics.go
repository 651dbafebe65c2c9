// Package metrics exposes the Prometheus registry of the proxy.
// All metrics are defined in their respective packages (cache, upstream,
// ratelimit) and registered via promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by the proxy.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the Prometheus gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "serenissima_build_info",
	Help: "Build information of the running proxy, value is always 1",
}, []string{"version"})

// SetBuildInfo records the running version.
func SetBuildInfo(version string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version).Set(1)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - serenissima_cache_hits_total{resource} (Counter): Fresh in-memory hits
//   - serenissima_cache_misses_total{resource} (Counter): Lookups that needed a fetch
//   - serenissima_cache_stale_served_total{resource,tier} (Counter): Stale entries served on failure
//   - serenissima_cache_empty_fallbacks_total{resource} (Counter): Failures with nothing to serve
//   - serenissima_304_responses_total{resource} (Counter): If-None-Match matches
//   - serenissima_cache_fetch_duration_seconds{resource,outcome} (Histogram): Fetcher duration
//   - serenissima_cache_entries{resource} (Gauge): In-memory entries
//   - serenissima_cache_store_errors_total{operation} (Counter): Store tier errors
//
// Upstream Metrics (pkg/upstream):
//   - serenissima_upstream_requests_total{path,status} (Counter)
//   - serenissima_upstream_request_duration_seconds{path} (Histogram)
//   - serenissima_upstream_errors_total{class} (Counter)
//   - serenissima_upstream_retries_total{error_class} (Counter)
//   - serenissima_upstream_retry_backoff_seconds{error_class} (Histogram)
//   - serenissima_upstream_retry_exhausted_total{error_class} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - serenissima_ratelimit_throttles_total (Counter): Requests delayed by the token bucket
//   - serenissima_ratelimit_blocks_total (Counter): Requests held by a Retry-After window
//   - serenissima_ratelimit_retry_after_seconds (Histogram): Announced Retry-After delays
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(serenissima_cache_hits_total[5m])) /
//   (sum(rate(serenissima_cache_hits_total[5m])) + sum(rate(serenissima_cache_misses_total[5m])))
//
//   # Degraded responses
//   sum by (resource) (rate(serenissima_cache_stale_served_total[5m]))
//
//   # P95 backend latency
//   histogram_quantile(0.95, rate(serenissima_upstream_request_duration_seconds_bucket[5m]))
