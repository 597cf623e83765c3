package security

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != 0 {
		t.Errorf("maxEntries = %d, want 0 for unlimited", rl.maxEntries)
	}
	if rl.idleTimeout != DefaultRateLimiterIdleTimeout {
		t.Errorf("idleTimeout = %v, want %v", rl.idleTimeout, DefaultRateLimiterIdleTimeout)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestNewRateLimiterWithConfig_NegativeMaxEntries(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, MaxEntries: -5}, slog.Default())
	defer rl.Stop()

	if rl.maxEntries != DefaultRateLimiterMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimiterMaxEntries)
	}
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 5, slog.Default())
	defer rl.Stop()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if !rl.allowAt("10.0.0.1", now) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allowAt("10.0.0.1", now) {
		t.Error("request beyond burst should be rejected")
	}
	if !rl.allowAt("10.0.0.2", now) {
		t.Error("a different identifier has its own bucket")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(2, 1, slog.Default())
	defer rl.Stop()

	now := time.Now()
	if !rl.allowAt("id", now) {
		t.Fatal("first request should be allowed")
	}
	if rl.allowAt("id", now) {
		t.Fatal("second immediate request should be rejected")
	}
	if !rl.allowAt("id", now.Add(600*time.Millisecond)) {
		t.Error("request after refill should be allowed")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1, MaxEntries: 2}, slog.Default())
	defer rl.Stop()

	now := time.Now()
	rl.allowAt("a", now)
	rl.allowAt("b", now)
	rl.allowAt("a", now) // a becomes most recent
	rl.allowAt("c", now) // evicts b

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
	if _, ok := rl.buckets["b"]; ok {
		t.Error("least recently used identifier should have been evicted")
	}
	if _, ok := rl.buckets["a"]; !ok {
		t.Error("recently used identifier should be kept")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, slog.Default())
	defer rl.Stop()

	now := time.Now()
	rl.allowAt("old", now.Add(-time.Hour))
	rl.allowAt("fresh", now)

	rl.cleanupAt(now, 30*time.Minute)

	stats := rl.GetStats()
	if stats.CurrentEntries != 1 {
		t.Fatalf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Error("fresh bucket should survive cleanup")
	}
}

func TestRateLimiter_RetryAfter(t *testing.T) {
	tests := []struct {
		rps  float64
		want int
	}{
		{rps: 10, want: 1},
		{rps: 1, want: 1},
		{rps: 0.5, want: 2},
		{rps: 0.1, want: 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.rps), func(t *testing.T) {
			rl := NewRateLimiterWithConfig(RateLimiterConfig{RequestsPerSecond: tt.rps, Burst: 1}, nil)
			defer rl.Stop()
			if got := rl.RetryAfter(); got != tt.want {
				t.Errorf("RetryAfter() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiterWithConfig(RateLimiterConfig{RequestsPerSecond: 1, Burst: 10, MaxEntries: 50}, nil)
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rl.Allow(fmt.Sprintf("ip-%d", (n+j)%60))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.GetStats().CurrentEntries; got > 50 {
		t.Errorf("CurrentEntries = %d, exceeds max 50", got)
	}
}
