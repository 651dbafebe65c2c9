package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/market"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// errorBody is the response body of rejected requests.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// invalidateBody is the response body of cache invalidation.
type invalidateBody struct {
	Success  bool   `json:"success"`
	Resource string `json:"resource"`
	Key      string `json:"key"`
	Existed  bool   `json:"existed"`
}

// GET /api/marketplace?assetType=&seller=&status=
func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := market.ParseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := market.ListingFilter{
		AssetType: q.Get("assetType"),
		Seller:    q.Get("seller"),
		Status:    status,
	}

	serveCached(w, r, s.listings, filter.Key(), s.window, s.clock,
		market.ListingsFetcher(s.source, filter),
		func(body market.ListingsBody, adv market.Advisory) any {
			body.Advisory = adv
			return body
		})
}

// GET /api/transactions/history?citizen=&assetType=&limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := market.ParseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := market.HistoryQuery{
		Citizen:   q.Get("citizen"),
		AssetType: q.Get("assetType"),
		Limit:     limit,
	}

	serveCached(w, r, s.history, query.Key(), s.window, s.clock,
		market.HistoryFetcher(s.source, query),
		func(body market.HistoryBody, adv market.Advisory) any {
			body = body.Limit(limit)
			body.Advisory = adv
			return body
		})
}

// DELETE /api/cache/{resource}?key=
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	var invalidate func() (bool, error)
	switch resource {
	case ResourceMarketplace:
		invalidate = func() (bool, error) { return s.listings.Invalidate(r.Context(), key) }
	case ResourceHistory:
		invalidate = func() (bool, error) { return s.history.Invalidate(r.Context(), key) }
	default:
		writeError(w, http.StatusBadRequest, "unknown resource "+resource)
		return
	}

	existed, err := invalidate()
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("resource", resource).
			Str("key", key).
			Msg("Cache invalidation failed")
		writeError(w, http.StatusInternalServerError, "invalidation failed")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, invalidateBody{
		Success:  true,
		Resource: resource,
		Key:      key,
		Existed:  existed,
	})
}

// serveCached resolves key through c and writes the response:
//   - fresh: 200 (or 304 on If-None-Match) with ETag and public max-age
//   - stale: 200 with the stale ETag, no-cache and advisory flags in the body
//   - no fallback: 503 with the empty body, no-store
//
// If-None-Match is only checked after Resolve, so a revalidation against an
// entry older than window always refetches first and is answered 304 only if
// the refreshed entry still carries the client's tag.
func serveCached[T any](
	w http.ResponseWriter,
	r *http.Request,
	c *cache.ConditionalCache[T],
	key string,
	window time.Duration,
	clock clockwork.Clock,
	fetch cache.Fetcher[T],
	render func(T, market.Advisory) any,
) {
	logger := zerolog.Ctx(r.Context())

	res := c.Resolve(r.Context(), key, window, fetch)

	logger.Debug().
		Str("resource", c.Name()).
		Str("key", key).
		Str("source", res.Source.String()).
		Str("etag", res.ETag).
		Msg("Resolved")

	h := w.Header()
	switch res.Source {
	case cache.SourceCache, cache.SourceUpstream:
		maxAge := window - clock.Since(res.FetchedAt)
		cache.SetCacheHeaders(h, res.ETag, maxAge)

		if inm := r.Header.Get("If-None-Match"); inm != "" && c.GetIfMatch(key, inm) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, render(res.Payload, market.Advisory{}))

	case cache.SourceStale:
		h.Set("ETag", res.ETag)
		h.Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, render(res.Payload, market.AdvisoryFor(res)))

	default:
		logger.Error().
			Err(res.Err).
			Str("resource", c.Name()).
			Str("key", key).
			Msg("No data available")
		h.Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusServiceUnavailable, render(res.Payload, market.AdvisoryFor(res)))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
