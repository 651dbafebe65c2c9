// Package app wires the proxy components from a configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Universal-Basic-Compute/serenissima-api/internal/config"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/api"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/cache"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/logging"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/market"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/ratelimit"
	"github.com/Universal-Basic-Compute/serenissima-api/pkg/upstream"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// App is a fully wired proxy.
type App struct {
	Handler  http.Handler
	Listings *cache.ConditionalCache[market.ListingsBody]
	History  *cache.ConditionalCache[market.HistoryBody]

	redis *redis.Client
}

// Option customizes New.
type Option func(*options)

type options struct {
	clock      clockwork.Clock
	httpClient *http.Client
}

// WithClock sets the clock shared by the caches and the server.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHTTPClient overrides the backend transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// New builds the proxy from cfg. With cfg.Redis.Addr set, the store tier is
// enabled and Redis must be reachable.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{}

	var store cache.Store
	var ready api.Pinger
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		rs := cache.NewRedisStore(a.redis).WithRetention(cfg.Cache.StoreRetention)
		store, ready = rs, rs
	}

	limiterLogger := logging.NewLogger("ratelimit")
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Rate:     cfg.RateLimit.Rate,
		Burst:    cfg.RateLimit.Burst,
		MaxBlock: ratelimit.DefaultMaxBlock,
	}, limiterLogger)

	upstreamCfg := upstream.DefaultConfig(cfg.BackendURL, cfg.UserAgent)
	upstreamCfg.Timeout = cfg.Cache.FetchTimeout
	upstreamCfg.Limiter = limiter
	upstreamCfg.HTTPClient = o.httpClient
	client, err := upstream.New(upstreamCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	etag := cache.TimeETag
	if cfg.Cache.ContentETag {
		etag = cache.ContentETag
	}

	a.Listings = cache.New(cache.Options[market.ListingsBody]{
		Name:         api.ResourceMarketplace,
		Clock:        o.clock,
		FetchTimeout: cfg.Cache.FetchTimeout,
		ETag:         etag,
		Empty:        market.EmptyListings,
		Store:        store,
	})
	a.History = cache.New(cache.Options[market.HistoryBody]{
		Name:         api.ResourceHistory,
		Clock:        o.clock,
		FetchTimeout: cfg.Cache.FetchTimeout,
		ETag:         etag,
		Empty:        market.EmptyHistory,
		Store:        store,
	})

	server, err := api.NewServer(api.Config{
		Source:          market.NewBackendSource(client),
		Listings:        a.Listings,
		History:         a.History,
		FreshnessWindow: cfg.Cache.FreshnessWindow,
		Clock:           o.clock,
		Ready:           ready,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Handler = server.Handler()

	return a, nil
}

// Close releases the Redis connection, if any.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
