package cache

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultFreshness is the freshness window used by the listing endpoints
	DefaultFreshness = 5 * time.Minute

	// DefaultFetchTimeout bounds every upstream fetch
	DefaultFetchTimeout = 10 * time.Second
)

// ETagFunc derives an ETag from a fetch time and the JSON encoding of the payload.
type ETagFunc func(fetchedAt time.Time, payload []byte) string

// TimeETag derives the ETag from the fetch time in unix milliseconds.
// Two refreshes of a key within the same millisecond, such as a refetch right
// after Invalidate, get the same tag even if their payloads differ; use
// ContentETag where that matters.
//
// Example:
//
//	"1714564800000"
func TimeETag(fetchedAt time.Time, _ []byte) string {
	return strconv.Quote(strconv.FormatInt(fetchedAt.UnixMilli(), 10))
}

// ContentETag derives the ETag from the xxhash64 of the payload, so two
// refreshes with identical content share a tag.
func ContentETag(_ time.Time, payload []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(payload))
}

// ETagMatches reports whether an If-None-Match header value matches etag.
// It understands comma separated lists, weak validators (W/) and "*".
func ETagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}

	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}

// SetCacheHeaders adds ETag and a public Cache-Control header to h.
// maxAge is truncated to whole seconds.
func SetCacheHeaders(h http.Header, etag string, maxAge time.Duration) {
	if h == nil {
		return
	}

	if etag != "" {
		h.Set("ETag", etag)
	}
	if maxAge < 0 {
		maxAge = 0
	}
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second)))
}
