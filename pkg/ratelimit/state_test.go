package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestState_IsBlocked(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		state         State
		expected      bool
		expectedUntil time.Duration
	}{
		{
			name:          "never blocked",
			state:         State{LastUpdate: now},
			expected:      false,
			expectedUntil: 0,
		},
		{
			name:          "active window",
			state:         State{BlockedUntil: now.Add(30 * time.Second), LastUpdate: now},
			expected:      true,
			expectedUntil: 30 * time.Second,
		},
		{
			name:          "window passed",
			state:         State{BlockedUntil: now.Add(-time.Second), LastUpdate: now},
			expected:      false,
			expectedUntil: 0,
		},
		{
			name:          "window ends exactly now",
			state:         State{BlockedUntil: now, LastUpdate: now},
			expected:      false,
			expectedUntil: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsBlocked(); got != tt.expected {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.expected)
			}
			if got := tt.state.TimeUntilUnblock(); got != tt.expectedUntil {
				t.Errorf("TimeUntilUnblock() = %v, want %v", got, tt.expectedUntil)
			}
		})
	}
}

func TestState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name     string
		tokens   float64
		expected bool
	}{
		{name: "full bucket", tokens: 10, expected: false},
		{name: "one token left", tokens: 1, expected: false},
		{name: "partial token", tokens: 0.5, expected: true},
		{name: "overdrawn", tokens: -2, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := State{Tokens: tt.tokens}
			if got := state.NeedsThrottling(); got != tt.expected {
				t.Errorf("NeedsThrottling() with %v tokens = %v, want %v", tt.tokens, got, tt.expected)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		value       string
		expected    time.Duration
		shouldError bool
	}{
		{name: "empty", value: "", expected: 0},
		{name: "seconds", value: "120", expected: 2 * time.Minute},
		{name: "zero seconds", value: "0", expected: 0},
		{name: "padded seconds", value: " 5 ", expected: 5 * time.Second},
		{name: "negative seconds", value: "-1", shouldError: true},
		{name: "http date in future", value: now.Add(90 * time.Second).Format(http.TimeFormat), expected: 90 * time.Second},
		{name: "http date in past", value: now.Add(-time.Hour).Format(http.TimeFormat), expected: 0},
		{name: "garbage", value: "soon", shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.value, now)
			if tt.shouldError {
				if err == nil {
					t.Errorf("ParseRetryAfter(%q) expected error, got %v", tt.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRetryAfter(%q) unexpected error: %v", tt.value, err)
			}
			if got != tt.expected {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}
