package resilience

import (
	"sync"
	"time"

	"mmexec/pkg/telemetry"
)

// BucketConfig sizes one endpoint's token bucket
type BucketConfig struct {
	CapacityPerS float64
	Burst        float64
}

// DefaultBucketConfig matches typical exchange REST allowances
var DefaultBucketConfig = BucketConfig{CapacityPerS: 10, Burst: 10}

// bucket is a single token bucket. Refill is recomputed from the
// monotonic clock on every attempt, never by a background task.
type bucket struct {
	mu         sync.Mutex
	cond       *sync.Cond
	cfg        BucketConfig
	tokens     float64
	lastRefill time.Time
}

func newBucket(cfg BucketConfig, now time.Time) *bucket {
	b := &bucket{cfg: cfg, tokens: cfg.Burst, lastRefill: now}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// refill credits tokens for the time elapsed since the last refill,
// clamped to burst. Caller holds the lock.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.cfg.CapacityPerS
	if b.tokens > b.cfg.Burst {
		b.tokens = b.cfg.Burst
	}
	b.lastRefill = now
}

// RateLimiter paces calls per logical endpoint. Global and per-endpoint
// configurations map to fully independent buckets.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	global    BucketConfig
	overrides map[string]BucketConfig
	now       func() time.Time
}

// NewRateLimiter creates a limiter with a global config plus optional
// per-endpoint overrides.
func NewRateLimiter(global BucketConfig, overrides map[string]BucketConfig) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*bucket),
		global:    global,
		overrides: overrides,
		now:       time.Now,
	}
}

func (rl *RateLimiter) bucketFor(endpoint string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[endpoint]
	if !ok {
		cfg := rl.global
		if o, ok := rl.overrides[endpoint]; ok {
			cfg = o
		}
		b = newBucket(cfg, rl.now())
		rl.buckets[endpoint] = b
	}
	return b
}

// Acquire blocks until tokens are available and returns the total wait
// in milliseconds. Waiters are woken as refill progresses so nobody
// oversleeps a freed allowance.
func (rl *RateLimiter) Acquire(endpoint string, tokens float64) float64 {
	if tokens <= 0 {
		tokens = 1
	}
	b := rl.bucketFor(endpoint)

	b.mu.Lock()
	defer b.mu.Unlock()

	start := rl.now()
	waited := false
	for {
		now := rl.now()
		b.refill(now)
		if b.tokens >= tokens {
			b.tokens -= tokens
			waitMs := float64(now.Sub(start)) / float64(time.Millisecond)
			if waited {
				telemetry.GetGlobalMetrics().ObserveRateLimitWaitMs(waitMs, endpoint)
			}
			return waitMs
		}

		if !waited {
			waited = true
			telemetry.GetGlobalMetrics().IncRateLimitHit(endpoint)
		}

		// Sleep until the deficit should be covered, then re-check.
		deficit := tokens - b.tokens
		wait := time.Duration(deficit / b.cfg.CapacityPerS * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.AfterFunc(wait, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		timer.Stop()
	}
}

// TryAcquire takes tokens without blocking; false when starved
func (rl *RateLimiter) TryAcquire(endpoint string, tokens float64) bool {
	if tokens <= 0 {
		tokens = 1
	}
	b := rl.bucketFor(endpoint)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(rl.now())
	if b.tokens < tokens {
		return false
	}
	b.tokens -= tokens
	return true
}

// Tokens reports the current token count after a refill pass
func (rl *RateLimiter) Tokens(endpoint string) float64 {
	b := rl.bucketFor(endpoint)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(rl.now())
	return b.tokens
}
