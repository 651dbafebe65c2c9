package cache

import (
	"encoding/json"
	"time"
)

// Entry is one cached payload for a key.
type Entry[T any] struct {
	// Key is the composite filter key the payload was fetched for
	Key string

	// Payload is the fully transformed response body
	Payload T

	// FetchedAt is when the payload was retrieved from upstream
	FetchedAt time.Time

	// ETag identifies this version of the payload for If-None-Match
	ETag string
}

// Age returns how long ago the entry was fetched, relative to now.
// Returns 0 if FetchedAt lies in the future.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	age := now.Sub(e.FetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// IsFresh reports whether the entry is younger than window at now.
func (e *Entry[T]) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.FetchedAt) < window
}

// StoredEntry is the representation of an entry in a Store tier.
type StoredEntry struct {
	// Payload is the JSON encoding of the cached payload
	Payload json.RawMessage `json:"payload"`

	// ETag of the stored version
	ETag string `json:"etag"`

	// FetchedAt is when the payload was retrieved from upstream
	FetchedAt time.Time `json:"fetched_at"`
}
