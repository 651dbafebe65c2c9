// Package ratelimit gates outbound requests to the Serenissima backend.
// It combines a token bucket with a block window taken from the Retry-After
// header of 429 responses, so a throttled backend is not hammered by retries.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Defaults for the outbound limiter.
const (
	// DefaultRate is the sustained number of backend requests per second.
	DefaultRate = 5.0

	// DefaultBurst is the number of requests allowed in a burst.
	DefaultBurst = 10

	// DefaultMaxBlock caps how long a single Retry-After may block requests.
	DefaultMaxBlock = 5 * time.Minute
)

// State is a snapshot of the limiter.
type State struct {
	// Rate is the configured requests per second.
	Rate float64 `json:"rate"`

	// Burst is the configured bucket size.
	Burst int `json:"burst"`

	// Tokens is the number of tokens available at LastUpdate.
	Tokens float64 `json:"tokens"`

	// BlockedUntil is the end of the current Retry-After window, zero if none was seen.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when this snapshot was taken.
	LastUpdate time.Time `json:"last_update"`
}

// IsBlocked reports whether requests are held back by a Retry-After window.
func (s State) IsBlocked() bool {
	return s.BlockedUntil.After(s.LastUpdate)
}

// TimeUntilUnblock returns the remaining block duration, or 0 if not blocked.
func (s State) TimeUntilUnblock() time.Duration {
	if !s.IsBlocked() {
		return 0
	}
	return s.BlockedUntil.Sub(s.LastUpdate)
}

// NeedsThrottling reports whether the next request would have to wait for a token.
func (s State) NeedsThrottling() bool {
	return s.Tokens < 1
}

// ParseRetryAfter parses a Retry-After header value, given either as delay
// seconds or as an HTTP date. Dates in the past yield 0.
func ParseRetryAfter(value string, now time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("negative Retry-After: %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, fmt.Errorf("parse Retry-After %q: %w", value, err)
	}
	if d := at.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}
