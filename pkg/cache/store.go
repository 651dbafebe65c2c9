package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultRetention is how long a RedisStore keeps entries.
// It is far longer than any freshness window so a restarted process
// still has a stale fallback.
const DefaultRetention = 24 * time.Hour

// Store is an optional second tier behind the in-memory entry map.
// Keys passed to a Store are already namespaced by resource.
type Store interface {
	// Get returns ErrCacheMiss if the key does not exist.
	Get(ctx context.Context, key string) (*StoredEntry, error)
	Set(ctx context.Context, key string, entry *StoredEntry) error
	Delete(ctx context.Context, key string) error
}

// RedisStore keeps entries in Redis.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis backed store with DefaultRetention.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}

	return &RedisStore{
		redis:     redisClient,
		prefix:    "serenissima:",
		retention: DefaultRetention,
	}
}

// WithRetention returns a copy of the store that expires entries after retention.
// Non-positive values keep the current retention.
func (s *RedisStore) WithRetention(retention time.Duration) *RedisStore {
	cp := *s
	if retention > 0 {
		cp.retention = retention
	}
	return &cp
}

// Get retrieves a stored entry by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*StoredEntry, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry StoredEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("decode").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &entry, nil
}

// Set stores an entry for the store's retention period.
func (s *RedisStore) Set(ctx context.Context, key string, entry *StoredEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("encode").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, s.prefix+key, data, s.retention).Err(); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a stored entry. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
