package processing

import (
	"context"
	"time"
)

const (
	DefaultRetryTimeUnit = time.Second
	maxBackoffUnits      = 60
)

// RetryPolicy computes the delay before a failed task is re-queued.
type RetryPolicy struct {
	MaxRetries int
	TimeUnit   time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.TimeUnit <= 0 {
		p.TimeUnit = DefaultRetryTimeUnit
	}
	return p
}

// Backoff returns min(2^attempt, 60) time units.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	units := maxBackoffUnits
	if attempt < 6 {
		units = 1 << attempt
		if attempt < 0 {
			units = 1
		}
	}
	if units > maxBackoffUnits {
		units = maxBackoffUnits
	}
	return time.Duration(units) * p.TimeUnit
}

// sleepContext waits for d or until ctx is done.
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
