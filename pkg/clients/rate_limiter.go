// Package clients provides rate limiting implementations
package clients

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request is allowed right now
	Allow() bool

	// Wait blocks until a request is allowed or the context is done
	Wait(ctx context.Context) error

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// RateLimiterStats provides statistics about rate limiter state for
// monitoring and debugging.
type RateLimiterStats struct {
	Rate            float64   `json:"rate"`
	Burst           int       `json:"burst"`
	AllowedRequests int64     `json:"allowed_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	CurrentTokens   float64   `json:"current_tokens"`
	LastRefill      time.Time `json:"last_refill"`
}

// TokenBucketRateLimiter implements the token bucket algorithm.
// Tokens are added at a constant rate and consumed by requests.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	allowedRequests int64
	blockedRequests int64

	mu sync.Mutex
}

// NewRateLimiter creates a token bucket rate limiter with the specified
// rate (requests per second) and burst capacity.
func NewRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// refill adds tokens accrued since the last refill. Caller must hold mu.
func (l *TokenBucketRateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastTime).Seconds()
	l.lastTime = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// Allow checks if a request is allowed without blocking.
func (l *TokenBucketRateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		atomic.AddInt64(&l.allowedRequests, 1)
		return true
	}
	atomic.AddInt64(&l.blockedRequests, 1)
	return false
}

// Wait blocks until a token is available or the context is cancelled.
func (l *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			atomic.AddInt64(&l.allowedRequests, 1)
			l.mu.Unlock()
			return nil
		}
		// Time until the next token accrues
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&l.blockedRequests, 1)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetStats returns current rate limiter statistics.
func (l *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return RateLimiterStats{
		Rate:            l.rate,
		Burst:           l.burst,
		AllowedRequests: atomic.LoadInt64(&l.allowedRequests),
		BlockedRequests: atomic.LoadInt64(&l.blockedRequests),
		CurrentTokens:   l.tokens,
		LastRefill:      l.lastTime,
	}
}
