package connection

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxAttempts is the number of attempts Retry makes by default.
const DefaultMaxAttempts = 3

// ErrInvalidAttempts is returned when MaxAttempts is negative.
var ErrInvalidAttempts = errors.New("max attempts must not be negative")

// Op is one attempt of a retried operation.
type Op func(ctx context.Context) error

// RetryConfig configures Retry.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (default: 3).
	MaxAttempts int

	// Backoff configures the delays between attempts.
	Backoff BackoffConfig

	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry runs op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. The last error of op is returned unchanged so
// callers can still classify it. If ctx ends while waiting, ctx.Err() is
// returned.
func Retry(ctx context.Context, cfg RetryConfig, op Op) error {
	if cfg.MaxAttempts < 0 {
		return ErrInvalidAttempts
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	backoff := NewBackoffWithConfig(cfg.Backoff)

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay := backoff.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if waitErr := Sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}
