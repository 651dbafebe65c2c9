package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoFallbackAvailable is reported when an upstream fetch fails and
	// neither memory nor the store tier holds an entry for the key.
	ErrNoFallbackAvailable = errors.New("no fallback available")

	// ErrFetchTimeout is reported when a fetcher exceeds the fetch timeout.
	ErrFetchTimeout = errors.New("upstream fetch timed out")
)

// Status is the outcome of a non-blocking lookup.
type Status int

const (
	// StatusMiss means no entry exists or the entry is older than the window.
	StatusMiss Status = iota

	// StatusFresh means an entry exists and is younger than the window.
	StatusFresh
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// Lookup is the result of Get.
type Lookup[T any] struct {
	Status    Status
	Payload   T
	ETag      string
	FetchedAt time.Time
}

// Source says where the payload of a Result came from.
type Source int

const (
	// SourceCache is a fresh in-memory hit; the fetcher was not called.
	SourceCache Source = iota

	// SourceUpstream is a payload fetched during this resolve.
	SourceUpstream

	// SourceStale is a prior entry served because the fetcher failed.
	SourceStale

	// SourceDefault is the Empty payload served because the fetcher failed
	// and nothing was cached.
	SourceDefault
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceUpstream:
		return "upstream"
	case SourceStale:
		return "stale"
	case SourceDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Result is the outcome of Resolve. Resolve never fails outright: upstream
// failures surface through Source and Err.
type Result[T any] struct {
	Payload   T
	ETag      string
	FetchedAt time.Time
	Source    Source

	// Err is the fetch failure for SourceStale, and a wrapped
	// ErrNoFallbackAvailable for SourceDefault. Nil otherwise.
	Err error
}

// Stale reports whether the payload is a fallback from an earlier fetch.
func (r Result[T]) Stale() bool {
	return r.Source == SourceStale
}

// ErrorMessage returns the failure message, or "" if the result is not degraded.
func (r Result[T]) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Fetcher performs the upstream call plus transformation for one key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Options configures a ConditionalCache.
type Options[T any] struct {
	// Name labels the resource in logs, metrics and store keys (required)
	Name string

	// Clock is the time source (default: real clock)
	Clock clockwork.Clock

	// FetchTimeout bounds each fetcher call (default: DefaultFetchTimeout)
	FetchTimeout time.Duration

	// ETag derives entry tags (default: TimeETag)
	ETag ETagFunc

	// Empty builds the payload returned when there is no fallback (default: zero value)
	Empty func() T

	// Store is an optional second tier consulted only on fallback
	Store Store

	// Logger for cache events (default: global logger with component=cache)
	Logger *zerolog.Logger
}

// ConditionalCache is a process-wide, key-addressable cache of fetched payloads
// with TTL freshness, ETag support and serve-stale-on-failure.
//
// Expiry is checked lazily on read; nothing runs in the background.
// Concurrent misses for one key share a single fetcher call.
type ConditionalCache[T any] struct {
	name    string
	clock   clockwork.Clock
	timeout time.Duration
	etag    ETagFunc
	empty   func() T
	store   Store
	logger  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry[T]
	epochs  map[string]uint64 // bumped by Invalidate
	group   singleflight.Group
}

// New creates a ConditionalCache.
func New[T any](opts Options[T]) *ConditionalCache[T] {
	if opts.Name == "" {
		panic("cache name cannot be empty")
	}

	c := &ConditionalCache[T]{
		name:    opts.Name,
		clock:   opts.Clock,
		timeout: opts.FetchTimeout,
		etag:    opts.ETag,
		empty:   opts.Empty,
		store:   opts.Store,
		entries: make(map[string]*Entry[T]),
		epochs:  make(map[string]uint64),
	}

	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultFetchTimeout
	}
	if c.etag == nil {
		c.etag = TimeETag
	}

	logger := log.With().Str("component", "cache").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	c.logger = logger.With().Str("resource", opts.Name).Logger()

	return c
}

// Name returns the resource name of the cache.
func (c *ConditionalCache[T]) Name() string {
	return c.name
}

// Get returns StatusFresh with the cached payload if an entry for key is
// younger than window, otherwise StatusMiss. It never performs I/O.
func (c *ConditionalCache[T]) Get(key string, window time.Duration) Lookup[T] {
	entry := c.lookup(key)
	if entry == nil || !entry.IsFresh(c.clock.Now(), window) {
		return Lookup[T]{Status: StatusMiss}
	}

	return Lookup[T]{
		Status:    StatusFresh,
		Payload:   entry.Payload,
		ETag:      entry.ETag,
		FetchedAt: entry.FetchedAt,
	}
}

// GetIfMatch reports whether the current entry for key matches the client's
// If-None-Match value, in which case the caller should answer 304 Not Modified.
// False means no decision: resolve and send the body as usual.
func (c *ConditionalCache[T]) GetIfMatch(key, clientETag string) bool {
	entry := c.lookup(key)
	if entry == nil || !ETagMatches(clientETag, entry.ETag) {
		return false
	}

	NotModifiedResponses.WithLabelValues(c.name).Inc()
	c.logger.Debug().
		Str("key", key).
		Str("etag", entry.ETag).
		Msg("Conditional request matched")
	return true
}

// Resolve returns the cached payload for key if it is fresh. Otherwise it calls
// fetch, stores and returns the new payload. If fetch fails, the last known
// payload is served as stale; with nothing to fall back on, the Empty payload
// is returned with an error wrapping ErrNoFallbackAvailable.
func (c *ConditionalCache[T]) Resolve(ctx context.Context, key string, window time.Duration, fetch Fetcher[T]) Result[T] {
	if entry := c.lookup(key); entry != nil && entry.IsFresh(c.clock.Now(), window) {
		CacheHits.WithLabelValues(c.name).Inc()
		c.logger.Debug().
			Str("key", key).
			Str("etag", entry.ETag).
			Dur("age", entry.Age(c.clock.Now())).
			Msg("Cache hit")
		return resultFrom(entry, SourceCache, nil)
	}

	CacheMisses.WithLabelValues(c.name).Inc()
	c.logger.Debug().Str("key", key).Msg("Cache miss")

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.refresh(ctx, key, window, fetch)
	})
	if err != nil {
		return c.fallback(ctx, key, err)
	}

	if shared {
		c.logger.Debug().Str("key", key).Msg("Shared in-flight fetch")
	}
	return resultFrom(v.(*Entry[T]), SourceUpstream, nil)
}

// Invalidate removes key from memory and from the store tier.
// It reports whether a memory entry existed. A fetch already in flight for key
// still returns its payload to its callers but is not stored.
func (c *ConditionalCache[T]) Invalidate(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.epochs[key]++
	size := len(c.entries)
	c.mu.Unlock()

	c.group.Forget(key)
	CacheEntries.WithLabelValues(c.name).Set(float64(size))

	c.logger.Info().
		Str("key", key).
		Bool("existed", existed).
		Msg("Cache entry invalidated")

	if c.store != nil {
		if err := c.store.Delete(ctx, c.storeKey(key)); err != nil {
			return existed, fmt.Errorf("invalidate %s: %w", key, err)
		}
	}
	return existed, nil
}

// Entry returns a copy of the in-memory entry for key, fresh or not.
func (c *ConditionalCache[T]) Entry(key string) (Entry[T], bool) {
	entry := c.lookup(key)
	if entry == nil {
		return Entry[T]{}, false
	}
	return *entry, true
}

// Len returns the number of in-memory entries.
func (c *ConditionalCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ConditionalCache[T]) lookup(key string) *Entry[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// refresh runs inside the singleflight group. Entries are immutable once
// stored, so the returned pointer can be shared between callers.
func (c *ConditionalCache[T]) refresh(ctx context.Context, key string, window time.Duration, fetch Fetcher[T]) (*Entry[T], error) {
	// Another flight may have completed between the caller's lookup and now
	c.mu.RLock()
	entry, epoch := c.entries[key], c.epochs[key]
	c.mu.RUnlock()
	if entry != nil && entry.IsFresh(c.clock.Now(), window) {
		return entry, nil
	}

	// The fetch is shared, so one caller's cancellation must not fail the others
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	payload, err := c.runFetch(fetchCtx, fetch)
	if err != nil {
		FetchDuration.WithLabelValues(c.name, "error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	FetchDuration.WithLabelValues(c.name, "ok").Observe(time.Since(start).Seconds())

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	entry, installed := c.put(key, epoch, payload, data)
	if !installed {
		c.logger.Debug().
			Str("key", key).
			Msg("Key invalidated during fetch, result not stored")
		return entry, nil
	}

	c.logger.Info().
		Str("key", key).
		Str("etag", entry.ETag).
		Dur("duration", time.Since(start)).
		Msg("Refreshed from upstream")

	if c.store != nil {
		stored := &StoredEntry{Payload: data, ETag: entry.ETag, FetchedAt: entry.FetchedAt}
		if err := c.store.Set(fetchCtx, c.storeKey(key), stored); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to write store tier")
		}
	}

	return entry, nil
}

type fetchOutcome[T any] struct {
	payload T
	err     error
}

// runFetch calls fetch and gives up when ctx expires, even if fetch ignores ctx.
func (c *ConditionalCache[T]) runFetch(ctx context.Context, fetch Fetcher[T]) (T, error) {
	done := make(chan fetchOutcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- fetchOutcome[T]{payload: zero, err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()
		payload, err := fetch(ctx)
		done <- fetchOutcome[T]{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %v", ErrFetchTimeout, c.timeout)
		}
		return zero, ctx.Err()
	}
}

// put replaces the entry for key unless key was invalidated after epoch was
// read, in which case the entry is built but not installed. FetchedAt never
// moves backwards for a key.
func (c *ConditionalCache[T]) put(key string, epoch uint64, payload T, data []byte) (*Entry[T], bool) {
	c.mu.Lock()
	fetchedAt := c.clock.Now()
	if prev, ok := c.entries[key]; ok && prev.FetchedAt.After(fetchedAt) {
		fetchedAt = prev.FetchedAt
	}

	entry := &Entry[T]{
		Key:       key,
		Payload:   payload,
		FetchedAt: fetchedAt,
		ETag:      c.etag(fetchedAt, data),
	}
	if c.epochs[key] != epoch {
		c.mu.Unlock()
		return entry, false
	}
	c.entries[key] = entry
	size := len(c.entries)
	c.mu.Unlock()

	CacheEntries.WithLabelValues(c.name).Set(float64(size))
	return entry, true
}

// adopt installs an entry loaded from the store unless memory already holds
// one at least as recent. It returns whichever entry is current.
func (c *ConditionalCache[T]) adopt(entry *Entry[T]) *Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[entry.Key]; ok && !entry.FetchedAt.After(prev.FetchedAt) {
		return prev
	}
	c.entries[entry.Key] = entry
	CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	return entry
}

func (c *ConditionalCache[T]) fallback(ctx context.Context, key string, fetchErr error) Result[T] {
	if entry := c.lookup(key); entry != nil {
		StaleServed.WithLabelValues(c.name, "memory").Inc()
		c.logger.Warn().
			Err(fetchErr).
			Str("key", key).
			Dur("age", entry.Age(c.clock.Now())).
			Msg("Upstream failed, serving stale entry")
		return resultFrom(entry, SourceStale, fetchErr)
	}

	if entry := c.loadStored(ctx, key); entry != nil {
		entry = c.adopt(entry)
		StaleServed.WithLabelValues(c.name, "store").Inc()
		c.logger.Warn().
			Err(fetchErr).
			Str("key", key).
			Dur("age", entry.Age(c.clock.Now())).
			Msg("Upstream failed, serving stale entry from store")
		return resultFrom(entry, SourceStale, fetchErr)
	}

	EmptyFallbacks.WithLabelValues(c.name).Inc()
	c.logger.Error().
		Err(fetchErr).
		Str("key", key).
		Msg("Upstream failed with no fallback entry")

	var payload T
	if c.empty != nil {
		payload = c.empty()
	}
	return Result[T]{
		Payload: payload,
		Source:  SourceDefault,
		Err:     fmt.Errorf("%w: %w", ErrNoFallbackAvailable, fetchErr),
	}
}

func (c *ConditionalCache[T]) loadStored(ctx context.Context, key string) *Entry[T] {
	if c.store == nil {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	stored, err := c.store.Get(storeCtx, c.storeKey(key))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to read store tier")
		}
		return nil
	}

	var payload T
	if err := json.Unmarshal(stored.Payload, &payload); err != nil {
		StoreErrors.WithLabelValues("decode").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable store entry")
		return nil
	}

	return &Entry[T]{
		Key:       key,
		Payload:   payload,
		FetchedAt: stored.FetchedAt,
		ETag:      stored.ETag,
	}
}

func (c *ConditionalCache[T]) storeKey(key string) string {
	return c.name + ":" + key
}

func resultFrom[T any](entry *Entry[T], source Source, err error) Result[T] {
	return Result[T]{
		Payload:   entry.Payload,
		ETag:      entry.ETag,
		FetchedAt: entry.FetchedAt,
		Source:    source,
		Err:       err,
	}
}
