package security

import (
	"container/list"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults
const (
	DefaultRateLimiterMaxEntries      = 10000
	DefaultRateLimiterCleanupInterval = 5 * time.Minute
	DefaultRateLimiterIdleTimeout     = 30 * time.Minute
)

// RateLimiterConfig configures a RateLimiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the steady-state refill rate per identifier
	RequestsPerSecond float64

	// Burst is the bucket size per identifier
	Burst int

	// MaxEntries caps the number of tracked identifiers (0 = unlimited).
	// The least recently used identifier is evicted when the cap is hit.
	MaxEntries int

	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration

	// IdleTimeout is how long a bucket may go unused before cleanup drops it
	IdleTimeout time.Duration
}

// bucket is one identifier's limiter in the LRU list
type bucket struct {
	identifier string
	limiter    *rate.Limiter
	lastSeen   time.Time
}

// RateLimiter provides per-identifier token bucket rate limiting with
// LRU eviction.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List

	limit       rate.Limit
	burst       int
	maxEntries  int
	idleTimeout time.Duration

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once

	evictions int64
	cleanups  int64
}

// NewRateLimiter creates a rate limiter with default LRU settings
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(RateLimiterConfig{
		RequestsPerSecond: float64(requestsPerSecond),
		Burst:             burst,
	}, logger)
}

// NewRateLimiterWithConfig creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiterWithConfig(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries < 0 {
		logger.Warn("Invalid rate limiter max entries, using default",
			"max_entries", cfg.MaxEntries,
			"default", DefaultRateLimiterMaxEntries)
		cfg.MaxEntries = DefaultRateLimiterMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimiterCleanupInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultRateLimiterIdleTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	rl := &RateLimiter{
		buckets:     make(map[string]*list.Element),
		lru:         list.New(),
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		maxEntries:  cfg.MaxEntries,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Allow reports whether one more request from identifier fits in its bucket
func (rl *RateLimiter) Allow(identifier string) bool {
	return rl.allowAt(identifier, time.Now())
}

func (rl *RateLimiter) allowAt(identifier string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[identifier]; ok {
		rl.lru.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.buckets) >= rl.maxEntries {
		rl.evictOldest()
	}

	b := &bucket{
		identifier: identifier,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastSeen:   now,
	}
	rl.buckets[identifier] = rl.lru.PushFront(b)

	return b.limiter.AllowN(now, 1)
}

// RetryAfter returns the number of whole seconds a rejected caller should
// wait before one token is available again. It is at least 1.
func (rl *RateLimiter) RetryAfter() int {
	if rl.limit <= 0 || rl.limit == rate.Inf {
		return 1
	}
	secs := int(math.Ceil(1 / float64(rl.limit)))
	if secs < 1 {
		return 1
	}
	return secs
}

// evictOldest drops the least recently used bucket. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	rl.lru.Remove(elem)
	delete(rl.buckets, b.identifier)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted bucket",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.buckets))
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.idleTimeout)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops buckets not used within maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.cleanupAt(time.Now(), maxIdle)
}

func (rl *RateLimiter) cleanupAt(now time.Time, maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	// The list is ordered by recency, so walk from the back and stop at the
	// first bucket that is still fresh.
	for elem := rl.lru.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if now.Sub(b.lastSeen) <= maxIdle {
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.buckets, b.identifier)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.cleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.buckets))
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Stats holds rate limiter statistics for monitoring
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
}

// GetStats returns current rate limiter statistics
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: len(rl.buckets),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.cleanups,
	}
}
