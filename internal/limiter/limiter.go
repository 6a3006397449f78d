package limiter

import (
	"sync"
	"time"

	"github.com/Shugur-Network/relay-gate/internal/logger"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit defines the limits applied to every key
type RateLimit struct {
	PerSecond    float64       // Sustained rate per key
	BurstSize    int           // Maximum burst size allowed
	BanThreshold int           // Number of violations before banning
	BanDuration  time.Duration // Duration of the ban
}

// Counter tracks rate limiting state for a specific key
type Counter struct {
	bucket     *rate.Limiter
	violations int
	bannedTill time.Time
	lastSeen   time.Time
}

// RateLimiter throttles client IPs opening connections or calling the
// webhook. Keys that keep exceeding their bucket are banned for a while.
type RateLimiter struct {
	limit  RateLimit
	clock  clock.Clock
	logger *zap.Logger

	mutex  sync.Mutex
	counts map[string]*Counter
}

// NewRateLimiter creates a rate limiter. A zero PerSecond disables limiting.
func NewRateLimiter(limit RateLimit, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	if limit.BurstSize < 1 {
		limit.BurstSize = 1
	}
	return &RateLimiter{
		limit:  limit,
		clock:  clk,
		logger: logger.New("limiter"),
		counts: make(map[string]*Counter),
	}
}

// Allow checks if one more request from key fits its limit
func (rl *RateLimiter) Allow(key string) bool {
	if key == "" || rl.limit.PerSecond <= 0 {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.clock.Now()
	counter, exists := rl.counts[key]
	if !exists {
		counter = &Counter{bucket: rate.NewLimiter(rate.Limit(rl.limit.PerSecond), rl.limit.BurstSize)}
		rl.counts[key] = counter
	}
	counter.lastSeen = now

	if now.Before(counter.bannedTill) {
		return false
	}
	if counter.bucket.AllowN(now, 1) {
		return true
	}

	counter.violations++
	if rl.limit.BanThreshold > 0 && counter.violations >= rl.limit.BanThreshold {
		counter.bannedTill = now.Add(rl.limit.BanDuration)
		counter.violations = 0
		rl.logger.Warn("Rate limit exceeded, client banned",
			zap.String("key", key),
			zap.Duration("ban_duration", rl.limit.BanDuration))
		return false
	}

	rl.logger.Debug("Rate limit exceeded",
		zap.String("key", key),
		zap.Int("violations", counter.violations))
	return false
}

// Banned reports whether key is currently banned
func (rl *RateLimiter) Banned(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	counter, ok := rl.counts[key]
	return ok && rl.clock.Now().Before(counter.bannedTill)
}

// Reset forgets the state kept for key
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.counts, key)
}

// Cleanup removes counters idle for longer than maxIdle that are not banned
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.clock.Now()
	removed := 0
	for key, counter := range rl.counts {
		if now.Sub(counter.lastSeen) > maxIdle && !now.Before(counter.bannedTill) {
			delete(rl.counts, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.counts)
}
