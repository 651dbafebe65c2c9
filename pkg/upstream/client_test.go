package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/ratelimit"
	"github.com/rs/zerolog"
)

const testUserAgent = "SerenissimaTest/1.0.0 (test@example.com)"

func newTestClient(t *testing.T, baseURL string, limiter *ratelimit.Limiter) *Client {
	t.Helper()

	policy := fastPolicy()
	logger := zerolog.Nop()
	client, err := New(Config{
		BaseURL:   baseURL,
		UserAgent: testUserAgent,
		Timeout:   2 * time.Second,
		Retry:     &policy,
		Limiter:   limiter,
		Logger:    &logger,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://backend.example.com", testUserAgent),
		},
		{
			name:        "missing base url",
			config:      Config{UserAgent: testUserAgent},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "relative base url",
			config:      Config{BaseURL: "/api", UserAgent: testUserAgent},
			expectError: true,
			errorMsg:    `invalid base url "/api"`,
		},
		{
			name:        "empty user agent",
			config:      Config{BaseURL: "https://backend.example.com"},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestGetJSON_Success(t *testing.T) {
	var gotUA, gotAccept, gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"count":2}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/", nil)

	var out struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	err := client.GetJSON(context.Background(), "/api/transactions/available", url.Values{"assetType": {"land"}}, &out)
	if err != nil {
		t.Fatalf("GetJSON() error: %v", err)
	}

	if !out.Success || out.Count != 2 {
		t.Errorf("decoded %+v, want success with count 2", out)
	}
	if gotUA != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, testUserAgent)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
	if gotPath != "/api/transactions/available" {
		t.Errorf("path = %q, want /api/transactions/available", gotPath)
	}
	if gotQuery != "assetType=land" {
		t.Errorf("query = %q, want assetType=land", gotQuery)
	}
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"no such citizen"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var out map[string]any
	err := client.GetJSON(context.Background(), "/api/transactions/history", nil, &out)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Expected *UpstreamError, got %v", err)
	}
	if upErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", upErr.StatusCode)
	}
	if upErr.Class != ErrorClassClient {
		t.Errorf("Class = %q, want client", upErr.Class)
	}
	if upErr.Message != "404 Not Found: no such citizen" {
		t.Errorf("Message = %q", upErr.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestGetJSON_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var out []any
	if err := client.GetJSON(context.Background(), "/api/transactions/available", nil, &out); err != nil {
		t.Fatalf("GetJSON() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestGetJSON_ServerErrorExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var out []any
	err := client.GetJSON(context.Background(), "/api/transactions/available", nil, &out)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if ClassOf(err) != ErrorClassServer {
		t.Errorf("ClassOf() = %q, want server", ClassOf(err))
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestGetJSON_MalformedBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	var out []any
	err := client.GetJSON(context.Background(), "/api/transactions/available", nil, &out)

	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Malformed bodies must not be retried, got %d calls", calls.Load())
	}
}

func TestGetJSON_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newTestClient(t, baseURL, nil)

	var out []any
	err := client.GetJSON(context.Background(), "/api/transactions/available", nil, &out)

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected retries for network errors, got %v", err)
	}
}

func TestGetJSON_RateLimitedBlocksLimiter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	limiter := ratelimit.NewLimiter(ratelimit.Config{Rate: 100, Burst: 10}, zerolog.Nop())
	client := newTestClient(t, server.URL, limiter)

	start := time.Now()
	var out map[string]any
	if err := client.GetJSON(context.Background(), "/api/transactions/available", nil, &out); err != nil {
		t.Fatalf("GetJSON() error: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Retry did not wait for Retry-After, elapsed %v", elapsed)
	}
}

func TestGetJSON_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out []any
	err := client.GetJSON(ctx, "/api/transactions/available", nil, &out)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrContextCancelled) && !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Expected cancellation or unavailable error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		path     string
		query    url.Values
		expected string
	}{
		{
			name:     "plain",
			baseURL:  "https://backend.example.com",
			path:     "/api/transactions/available",
			expected: "https://backend.example.com/api/transactions/available",
		},
		{
			name:     "base with prefix and trailing slash",
			baseURL:  "https://backend.example.com/v2/",
			path:     "api/transactions/history",
			query:    url.Values{"citizen": {"marco polo"}},
			expected: "https://backend.example.com/v2/api/transactions/history?citizen=marco+polo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.baseURL, nil)
			if got := client.resolve(tt.path, tt.query); got != tt.expected {
				t.Errorf("resolve() = %q, want %q", got, tt.expected)
			}
		})
	}
}
