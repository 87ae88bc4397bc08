// ratelimit.go implements token-bucket rate limiting for outbound REST
// calls to the exchange. The pipeline's primary defense against abuse is
// reactive (a 429 latches connection_status=RATE_LIMITED for 60s, spec.md
// §4.2/§4.4); this bucket is a courtesy pre-throttle so routine polling
// (time sync, depth snapshots) does not provoke that latch under normal
// operation.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by REST endpoint category. Each worker
// calls the appropriate bucket's Wait() before issuing its HTTP request.
type RateLimiter struct {
	Info     *TokenBucket // GET /v1/exchangeInfo, /v1/time
	Account  *TokenBucket // GET /v3/account
	UserData *TokenBucket // POST/PUT /v1/userDataStream
	Depth    *TokenBucket // GET /v1/depth
}

// NewRateLimiter creates rate limiters tuned generously below typical
// exchange-imposed weights, smoothing the Connection and Snapshot workers'
// polling cadence rather than bursting at the top of every tick.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Info:     NewTokenBucket(5, 1),
		Account:  NewTokenBucket(5, 1),
		UserData: NewTokenBucket(3, 0.5),
		Depth:    NewTokenBucket(20, 5),
	}
}
