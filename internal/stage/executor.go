// Package stage wraps external pipeline calls with a bounded, iterative retry
// loop. Every external call (story spec, scene image, scene audio, encode)
// goes through Do with the same contract: per-attempt timeout, monotonically
// non-decreasing backoff, typed failure after the attempt budget is spent.
package stage

import (
	"context"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1200 * time.Millisecond
)

// Config bounds one stage's retry behaviour.
type Config struct {
	// Name identifies the stage in logs and error messages.
	Name string
	// MaxAttempts is the total attempt budget, not the retry count.
	MaxAttempts int
	// Backoff is the delay before the second attempt.
	Backoff time.Duration
	// BackoffFactor multiplies the delay after each attempt. Values below 1
	// are treated as 1 so the delay never decreases.
	BackoffFactor float64
	// Timeout bounds a single attempt. Zero means the parent context rules.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// Do runs fn until it succeeds, the attempt budget is exhausted, a
// non-retryable error is returned, or ctx is cancelled. The loop is iterative
// by design; cancellation interrupts both in-flight attempts (via the
// per-attempt context) and backoff sleeps.
func Do[T any](ctx context.Context, cfg Config, logger infra.Logger, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	delay := cfg.Backoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("stage %s: %w", cfg.Name, err)
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			logger.Error().Err(err).Str("stage", cfg.Name).Int("attempt", attempt).
				Msg("stage: non-retryable failure")
			return zero, fmt.Errorf("stage %s: %w", cfg.Name, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn().Err(err).Str("stage", cfg.Name).Int("attempt", attempt).
			Dur("backoff", delay).Msg("stage: attempt failed, retrying")
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("stage %s: %w", cfg.Name, err)
		}
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
	}

	return zero, fmt.Errorf("stage %s: %d attempts exhausted: %w", cfg.Name, cfg.MaxAttempts, lastErr)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
