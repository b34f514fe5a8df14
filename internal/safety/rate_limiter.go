package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting. Tokens refill
// continuously at refillRate per second up to capacity.
type RateLimiter struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mutex      sync.Mutex
	name       string
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(name string, capacity int, refillRate float64) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &RateLimiter{
		capacity:   float64(capacity),
		tokens:     float64(capacity), // start full
		refillRate: refillRate,
		lastRefill: time.Now(),
		name:       name,
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.now = now
	rl.lastRefill = now()
}

// Allow checks if an operation is allowed under the rate limit
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN checks if N operations are allowed under the rate limit
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	return false
}

// Wait waits until an operation is allowed
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.waitTime(1)):
		}
	}
}

func (rl *RateLimiter) refillTokens() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed.Seconds() * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

func (rl *RateLimiter) waitTime(n int) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	missing := float64(n) - rl.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing/rl.refillRate*float64(time.Second)) + time.Millisecond
}

// Stats returns current statistics about the rate limiter
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillTokens()
	return RateLimiterStats{
		Name:       rl.name,
		Capacity:   int(rl.capacity),
		Tokens:     rl.tokens,
		RefillRate: rl.refillRate,
	}
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name       string  `json:"name"`
	Capacity   int     `json:"capacity"`
	Tokens     float64 `json:"tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// KeyedRateLimiter keeps one bucket per key, for example per client address
type KeyedRateLimiter struct {
	limiters   map[string]*RateLimiter
	mutex      sync.Mutex
	name       string
	capacity   int
	refillRate float64
	now        func() time.Time
}

// NewKeyedRateLimiter creates buckets lazily with the given capacity and rate
func NewKeyedRateLimiter(name string, capacity int, refillRate float64) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters:   make(map[string]*RateLimiter),
		name:       name,
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// SetClock replaces the time source of current and future buckets
func (k *KeyedRateLimiter) SetClock(now func() time.Time) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	k.now = now
	for _, rl := range k.limiters {
		rl.SetClock(now)
	}
}

// Allow takes one token from the bucket of key
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

func (k *KeyedRateLimiter) get(key string) *RateLimiter {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if rl, ok := k.limiters[key]; ok {
		return rl
	}
	rl := NewRateLimiter(k.name+":"+key, k.capacity, k.refillRate)
	rl.SetClock(k.now)
	k.limiters[key] = rl
	return rl
}

// Stats returns statistics for every bucket
func (k *KeyedRateLimiter) Stats() []RateLimiterStats {
	k.mutex.Lock()
	limiters := make([]*RateLimiter, 0, len(k.limiters))
	for _, rl := range k.limiters {
		limiters = append(limiters, rl)
	}
	k.mutex.Unlock()

	stats := make([]RateLimiterStats, 0, len(limiters))
	for _, rl := range limiters {
		stats = append(stats, rl.Stats())
	}
	return stats
}
