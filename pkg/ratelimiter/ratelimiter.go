// Package ratelimiter implements a token bucket rate limiter.
package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter limits the rate of some repeated operation.
type RateLimiter interface {
	TakeToken() bool
	Wait()
}

// TokenBucket is a thread-safe token bucket limiter.
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket with the given capacity and refill rate
// in tokens per second. Non-positive values are clamped to 1.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}

	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TakeToken attempts to take a token. Returns false when the bucket is empty.
func (tb *TokenBucket) TakeToken() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token becomes available.
func (tb *TokenBucket) Wait() {
	for !tb.TakeToken() {
		time.Sleep(50 * time.Millisecond)
	}
}

// refill adds accrued tokens. Caller must hold the mutex.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int64(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}
