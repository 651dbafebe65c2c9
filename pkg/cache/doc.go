// Package cache provides the stale-tolerant response cache in front of the
// Serenissima backend.
//
// A ConditionalCache holds one fetched payload per key together with the time it
// was fetched and an ETag derived from that time. Entries are fresh for a
// caller-supplied window and are never evicted by age: an expired entry stays
// around as the fallback for when the upstream fails.
//
// # Basic Usage
//
//	listings := cache.New(cache.Options[market.ListingsBody]{
//		Name:  "marketplace",
//		Empty: market.EmptyListings,
//	})
//
//	q := r.URL.Query()
//	key := cache.NewKey(q.Get("assetType"), q.Get("seller"), q.Get("status"))
//	res := listings.Resolve(ctx, key.String(), cache.DefaultFreshness, fetch)
//	switch res.Source {
//	case cache.SourceCache, cache.SourceUpstream:
//		// fresh payload
//	case cache.SourceStale:
//		// previous payload, res.Err says why the refresh failed
//	case cache.SourceDefault:
//		// Empty payload, res.Err wraps ErrNoFallbackAvailable
//	}
//
// # Conditional Requests
//
//	if listings.GetIfMatch(key.String(), r.Header.Get("If-None-Match")) {
//		w.WriteHeader(http.StatusNotModified)
//		return
//	}
//
// # Store Tier
//
// With Options.Store set, every successful fetch is also written to Redis and a
// failed fetch with an empty memory map falls back to the stored entry. The
// store is never read on the hot path.
//
// # Metrics
//
//   - serenissima_cache_hits_total{resource}
//   - serenissima_cache_misses_total{resource}
//   - serenissima_cache_stale_served_total{resource,tier}
//   - serenissima_cache_empty_fallbacks_total{resource}
//   - serenissima_304_responses_total{resource}
//   - serenissima_cache_fetch_duration_seconds{resource,outcome}
//   - serenissima_cache_entries{resource}
//   - serenissima_cache_store_errors_total{operation}
package cache
