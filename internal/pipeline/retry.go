package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// RetryPolicy retries a failed phase a fixed number of times with a fixed delay.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// ShouldRetry decides whether attempt (zero based) may be followed by another one.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.Retries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Deterministic failures would fail the same way again.
	if errors.Is(err, etl.ErrMalformedRecord) || errors.Is(err, etl.ErrInvalidReport) {
		return false
	}
	return true
}

// Backoff returns the wait before the next attempt.
func (p RetryPolicy) Backoff(int) time.Duration {
	if p.Delay < 0 {
		return 0
	}
	return p.Delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
