package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, want: false},
		{name: "future", expiresAt: now.Add(time.Minute), want: false},
		{name: "just passed within skew", expiresAt: now.Add(-3 * time.Second), want: false},
		{name: "exactly at skew boundary", expiresAt: now.Add(-DefaultClockSkew), want: false},
		{name: "beyond skew", expiresAt: now.Add(-10 * time.Second), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithSkew_ZeroSkew(t *testing.T) {
	now := time.Now()
	if !IsExpiredWithSkew(now.Add(-time.Millisecond), now, 0) {
		t.Error("expected expiry with zero skew")
	}
}
