package cache

import (
	"testing"
	"time"
)

func TestEntry_IsFresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		fetchedAt time.Time
		window    time.Duration
		want      bool
	}{
		{
			name:      "just fetched",
			fetchedAt: now,
			window:    5 * time.Minute,
			want:      true,
		},
		{
			name:      "inside window",
			fetchedAt: now.Add(-4*time.Minute - 59*time.Second),
			window:    5 * time.Minute,
			want:      true,
		},
		{
			name:      "exactly at window boundary",
			fetchedAt: now.Add(-5 * time.Minute),
			window:    5 * time.Minute,
			want:      false,
		},
		{
			name:      "long expired",
			fetchedAt: now.Add(-1 * time.Hour),
			window:    5 * time.Minute,
			want:      false,
		},
		{
			name:      "zero window never fresh",
			fetchedAt: now,
			window:    0,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry[string]{FetchedAt: tt.fetchedAt}
			if got := entry.IsFresh(now, tt.window); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Age(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		fetchedAt time.Time
		want      time.Duration
	}{
		{
			name:      "two minutes old",
			fetchedAt: now.Add(-2 * time.Minute),
			want:      2 * time.Minute,
		},
		{
			name:      "fetched in the future",
			fetchedAt: now.Add(time.Minute),
			want:      0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry[int]{FetchedAt: tt.fetchedAt}
			if got := entry.Age(now); got != tt.want {
				t.Errorf("Age() = %v, want %v", got, tt.want)
			}
		})
	}
}
