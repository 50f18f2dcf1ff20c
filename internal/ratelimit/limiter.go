// Package ratelimit provides keyed token-bucket rate limiting for the HTTP
// gateway. Keys combine endpoint and client so one noisy client cannot
// exhaust an endpoint for everyone.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained request rate per key.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int `yaml:"burst_size"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		Enabled:           true,
	}
}

// Bucket implements token bucket rate limiting.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a new token bucket.
func NewBucket(config Config) *Bucket {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10.0
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond * 2)
	}

	return &Bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request should be allowed and consumes a token if so.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// RetryAfter returns how long to wait before a request would be allowed.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Limiter manages rate limits for multiple keys (endpoint+client pairs).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		maxKeys: 10000,
	}
}

// Allow checks if a request for the given key should be allowed.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(key).Allow()
}

// RetryAfter returns how long the key must wait before the next request.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.getBucket(key).RetryAfter()
}

// Reset clears the bucket for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// getBucket returns or creates a bucket for the given key.
func (l *Limiter) getBucket(key string) *Bucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}

	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}

	bucket = NewBucket(l.config)
	l.buckets[key] = bucket
	return bucket
}

// prune removes buckets with near-full tokens (likely inactive keys).
// Called with the write lock held.
func (l *Limiter) prune() {
	for key, bucket := range l.buckets {
		if bucket.Tokens() >= bucket.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}

// CompositeKey creates a rate limit key from multiple parts.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
