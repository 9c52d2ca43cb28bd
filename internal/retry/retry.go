// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Delay returns the wait before the given attempt (1-based; attempt 1 has no wait).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base << uint(attempt-2)
	if d <= 0 || (p.Max > 0 && d > p.Max) {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. onRetry (optional) is invoked before each repeated attempt.
// It returns the number of attempts made and the last error.
func Do(
	ctx context.Context, p Policy,
	fn func(ctx context.Context) error,
	onRetry func(attempt int, err error),
) (int, error) {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			if wait := p.Delay(attempt); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return attempt - 1, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !domain.IsRetryable(lastErr) {
			return attempt, lastErr
		}
	}
	return attempts, lastErr
}
