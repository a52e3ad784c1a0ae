package client

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-adp/pkg/errors"
	"github.com/ajitpratap0/tap-adp/pkg/logger"
)

// RetryPolicy defines retry behavior for transient failures
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a retry policy with exponential backoff and jitter
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Execute runs a function, retrying while it fails with a retryable error.
// A rate-limited response carrying a server-requested delay overrides the
// computed backoff for that attempt. Non-retryable errors return immediately.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return err
		}
		if attempt == rp.MaxAttempts-1 {
			break
		}

		delay := rp.calculateDelay(attempt)
		if v, ok := errors.Detail(err, "retry_after"); ok {
			if after, ok := v.(time.Duration); ok && after > delay {
				delay = after
				if delay > rp.MaxDelay {
					delay = rp.MaxDelay
				}
			}
		}

		logger.Get().Debug("retrying after transient failure",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeInternal, "retry cancelled")
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeTransient, "retry attempts exhausted")
}

// calculateDelay calculates the backoff delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}
