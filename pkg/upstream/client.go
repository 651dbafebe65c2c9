// Package upstream provides the HTTP client for the Serenissima backend with
// rate limiting, class-based retries and tracing.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Universal-Basic-Compute/serenissima-api/pkg/upstream"

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serenissima_upstream_requests_total",
		Help: "Total backend requests by path and status",
	}, []string{"path", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serenissima_upstream_request_duration_seconds",
		Help:    "Backend request duration in seconds by path",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"path"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serenissima_upstream_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})

	upstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serenissima_upstream_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	upstreamRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serenissima_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	upstreamRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serenissima_upstream_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the backend, e.g. "https://backend.serenissima.ai" (required)
	BaseURL string

	// User-Agent header (required)
	UserAgent string

	// Timeout per HTTP attempt (default 10s)
	Timeout time.Duration

	// Retry policy (default DefaultRetryPolicy)
	Retry *RetryPolicy

	// Limiter gates outbound requests (optional)
	Limiter *ratelimit.Limiter

	// HTTPClient overrides the transport (optional, for testing)
	HTTPClient *http.Client

	// Logger (default: global logger with component=upstream)
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	policy := DefaultRetryPolicy()
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   10 * time.Second,
		Retry:     &policy,
	}
}

// Client is the backend HTTP client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	retry      RetryPolicy
	limiter    *ratelimit.Limiter
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// New creates a new backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	policy := DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.With().Str("component", "upstream").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		retry:      policy,
		limiter:    cfg.Limiter,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}, nil
}

// GetJSON performs a GET request against path with the given query and decodes
// the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "upstream.GetJSON",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.path", path)),
	)
	defer span.End()

	target := c.resolve(path, query)

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	var status int
	err := retryWithBackoff(ctx, c.retry, c.logger, func() error {
		var attemptErr error
		status, attemptErr = c.attempt(ctx, target, path, out)
		return attemptErr
	}, ClassOf)

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// attempt performs one HTTP round-trip and returns the response status (0 on
// transport failure).
func (c *Client) attempt(ctx context.Context, target, path string, out any) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("path", path).
		Str("url", target).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().Err(err).Str("path", path).Msg("Upstream request failed")
		return 0, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()

		if class == ErrorClassRateLimit && c.limiter != nil {
			if _, err := c.limiter.UpdateFromHeaders(resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to parse Retry-After header")
			}
		}

		c.logger.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		return resp.StatusCode, &UpstreamError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    errorMessage(resp),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
		return resp.StatusCode, fmt.Errorf("%w: decode %s: %w", ErrMalformedResponse, path, err)
	}

	return resp.StatusCode, nil
}

// resolve joins path and query onto the base URL.
func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// errorMessage returns the response status, plus the backend's error field
// when the body carries one.
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return resp.Status
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return resp.Status + ": " + payload.Error
	}
	return resp.Status
}
