package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRateLimited is returned when the server rejected a request with 429.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// withRetries repeats fn while the server is rate limiting us, sleeping for
// the advertised interval capped at maxWait. Any other error ends the loop.
func withRetries[R any](ctx context.Context, logger *slog.Logger, maxWait time.Duration, fn func() (R, error)) (R, error) {
	for {
		result, err := fn()
		if err == nil {
			return result, nil // Success
		}

		var rateLimitErr *ErrRateLimited
		if errors.As(err, &rateLimitErr) && maxWait > 0 {
			wait := min(rateLimitErr.RetryAfter, maxWait)
			logger.Warn("User operation rate limited, sleeping", "duration", wait)
			select {
			case <-time.After(wait):
				logger.Debug("Finished rate limit sleep, retrying operation.")
				continue // Slept, continue to retry
			case <-ctx.Done():
				logger.Error("Context cancelled during rate limit sleep", "error", ctx.Err())
				var zero R
				return zero, fmt.Errorf("operation cancelled during rate limit sleep: %w", ctx.Err())
			}
		}

		var zero R
		return zero, err
	}
}

func withRetriesVoid(ctx context.Context, logger *slog.Logger, maxWait time.Duration, fn func() error) error {
	_, err := withRetries(ctx, logger, maxWait, func() (any, error) {
		return nil, fn()
	})
	return err
}
