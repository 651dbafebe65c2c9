package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for outbound rate limiting.
var (
	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serenissima_ratelimit_throttles_total",
		Help: "Total number of backend requests delayed by the token bucket",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serenissima_ratelimit_blocks_total",
		Help: "Total number of backend requests held back by a Retry-After window",
	})

	retryAfterSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "serenissima_ratelimit_retry_after_seconds",
		Help:    "Retry-After durations announced by the backend",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

// Config holds the limiter configuration.
type Config struct {
	// Rate is requests per second; <= 0 disables the token bucket
	Rate float64

	// Burst is the bucket size (minimum 1)
	Burst int

	// MaxBlock caps a single Retry-After window
	MaxBlock time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		Rate:     DefaultRate,
		Burst:    DefaultBurst,
		MaxBlock: DefaultMaxBlock,
	}
}

// Limiter gates outbound requests. It is safe for concurrent use.
type Limiter struct {
	bucket   *rate.Limiter
	maxBlock time.Duration
	logger   zerolog.Logger

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewLimiter creates a new outbound limiter.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.MaxBlock <= 0 {
		cfg.MaxBlock = DefaultMaxBlock
	}

	return &Limiter{
		bucket:   rate.NewLimiter(limit, cfg.Burst),
		maxBlock: cfg.MaxBlock,
		logger:   logger,
	}
}

// Wait blocks until a request may be sent: first until any Retry-After window
// has passed, then until the token bucket grants a token.
func (l *Limiter) Wait(ctx context.Context) error {
	if d := l.blockRemaining(time.Now()); d > 0 {
		rateLimitBlocksTotal.Inc()
		l.logger.Warn().
			Dur("wait_duration", d).
			Msg("Backend asked us to back off - holding request")

		if err := sleep(ctx, d); err != nil {
			return fmt.Errorf("wait for retry-after window: %w", err)
		}
	}

	r := l.bucket.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limiter cannot grant a token")
	}

	if delay := r.Delay(); delay > 0 {
		rateLimitThrottlesTotal.Inc()
		l.logger.Debug().Dur("delay", delay).Msg("Throttling backend request")

		if err := sleep(ctx, delay); err != nil {
			r.Cancel()
			return fmt.Errorf("wait for token: %w", err)
		}
	}

	return nil
}

// Block holds back requests for d, capped at MaxBlock. A shorter window never
// shortens one that is already active.
func (l *Limiter) Block(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > l.maxBlock {
		d = l.maxBlock
	}

	until := time.Now().Add(d)

	l.mu.Lock()
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()

	retryAfterSeconds.Observe(d.Seconds())
	l.logger.Warn().
		Dur("duration", d).
		Time("blocked_until", until).
		Msg("Backend rate limit hit - blocking requests")
}

// UpdateFromHeaders applies the Retry-After header of a backend response.
// It returns the announced delay, 0 if the header is absent.
func (l *Limiter) UpdateFromHeaders(headers http.Header) (time.Duration, error) {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0, nil
	}

	d, err := ParseRetryAfter(value, time.Now())
	if err != nil {
		return 0, err
	}
	l.Block(d)
	return d, nil
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	now := time.Now()

	l.mu.Lock()
	blockedUntil := l.blockedUntil
	l.mu.Unlock()

	return State{
		Rate:         float64(l.bucket.Limit()),
		Burst:        l.bucket.Burst(),
		Tokens:       l.bucket.TokensAt(now),
		BlockedUntil: blockedUntil,
		LastUpdate:   now,
	}
}

func (l *Limiter) blockRemaining(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedUntil.Sub(now)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
