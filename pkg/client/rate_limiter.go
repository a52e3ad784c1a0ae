package client

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
)

// RateLimiter implements the token bucket algorithm. Tokens are added at a
// constant rate and consumed by requests; a nil limiter allows everything.
type RateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a token bucket limiter with the specified rate
// (requests per second) and burst capacity. A rate of 0 disables limiting.
func NewRateLimiter(rate int, burst int) *RateLimiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &RateLimiter{
		rate:     float64(rate),
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Wait blocks until a request is allowed or the context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}

	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1.0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		needed := 1.0 - rl.tokens
		wait := time.Duration(needed / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "rate limit wait cancelled")
		case <-timer.C:
		}
	}
}

// refill adds tokens based on elapsed time; callers hold the mutex
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.lastTime = now

	rl.tokens += elapsed * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}
}
