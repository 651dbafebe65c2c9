package upstream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
// Backoffs stay well inside the cache's 10s fetch timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy selects a RetryConfig by error class.
type RetryPolicy struct {
	Default  RetryConfig
	PerClass map[ErrorClass]RetryConfig
}

// DefaultRetryPolicy returns the default per-class retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Default: DefaultRetryConfig(),
		PerClass: map[ErrorClass]RetryConfig{
			ErrorClassServer: {
				MaxAttempts:       3,
				InitialBackoff:    250 * time.Millisecond,
				MaxBackoff:        2 * time.Second,
				BackoffMultiplier: 2.0,
			},
			// Retry-After is enforced by the limiter, so the backoff here is a floor
			ErrorClassRateLimit: {
				MaxAttempts:       3,
				InitialBackoff:    1 * time.Second,
				MaxBackoff:        4 * time.Second,
				BackoffMultiplier: 2.0,
			},
			ErrorClassNetwork: {
				MaxAttempts:       3,
				InitialBackoff:    500 * time.Millisecond,
				MaxBackoff:        2 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
	}
}

// For returns the retry configuration for an error class.
func (p RetryPolicy) For(class ErrorClass) RetryConfig {
	if cfg, ok := p.PerClass[class]; ok {
		return cfg
	}
	return p.Default
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable class,
// or the attempts allowed for the latest error class are used up. Backoff is
// exponential with ±20% jitter and respects context cancellation.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func() error, classify func(error) ErrorClass) error {
	var lastErr error
	var class ErrorClass
	var backoff time.Duration

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		prevClass := class
		class = classify(err)

		if !shouldRetry(class) {
			return lastErr
		}

		cfg := policy.For(class)
		if class != prevClass || backoff == 0 {
			backoff = cfg.InitialBackoff
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		upstreamRetriesTotal.WithLabelValues(string(class)).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		upstreamRetryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying upstream request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, lastErr)
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	upstreamRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", policy.For(class).MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.For(class).MaxAttempts, lastErr)
}
