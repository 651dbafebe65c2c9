// Package testutil provides testing utilities for the Serenissima proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Universal-Basic-Compute/serenissima-api/pkg/market"
)

// MockResponse defines the behavior for a mock backend endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBackend is a configurable mock of the Serenissima backend.
// Unconfigured paths answer 404.
type MockBackend struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[string]MockResponse
	failure   *MockResponse
	requests  map[string]int
	lastQuery url.Values
	lastAgent string
}

// NewMockBackend starts a mock backend serving empty transaction lists on the
// available and history paths.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		responses: map[string]MockResponse{
			market.AvailablePath: NewTransactionsResponse(`[]`),
			market.HistoryPath:   NewTransactionsResponse(`[]`),
		},
		requests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	m.lastQuery = r.URL.Query()
	m.lastAgent = r.UserAgent()

	resp, ok := m.responses[r.URL.Path]
	if m.failure != nil {
		resp, ok = *m.failure, true
	}
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears request tracking.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.lastQuery = nil
	m.lastAgent = ""
}

// SetResponse configures the response for a path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// SetAvailable serves the given JSON transactions array on the available path.
func (m *MockBackend) SetAvailable(transactions string) {
	m.SetResponse(market.AvailablePath, NewTransactionsResponse(transactions))
}

// SetHistory serves the given JSON transactions array on the history path.
func (m *MockBackend) SetHistory(transactions string) {
	m.SetResponse(market.HistoryPath, NewTransactionsResponse(transactions))
}

// Fail makes every path answer resp until Recover is called.
func (m *MockBackend) Fail(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = &resp
}

// Recover undoes Fail.
func (m *MockBackend) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = nil
}

// RequestCount returns the number of requests made to path.
func (m *MockBackend) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// LastQuery returns the query of the most recent request.
func (m *MockBackend) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *MockBackend) LastUserAgent() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAgent
}

// NewTransactionsResponse creates a successful envelope around a JSON array.
func NewTransactionsResponse(transactions string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true,"transactions":` + transactions + `}`,
		Headers:    jsonHeaders(),
	}
}

// NewRejectedResponse creates a 200 response with success=false.
func NewRejectedResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":false,"error":` + strconv.Quote(message) + `}`,
		Headers:    jsonHeaders(),
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    jsonHeaders(),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter time.Duration) MockResponse {
	headers := jsonHeaders()
	headers["Retry-After"] = strconv.Itoa(int(retryAfter / time.Second))
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    headers,
	}
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json; charset=utf-8"}
}
