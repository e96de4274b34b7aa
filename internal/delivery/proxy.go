// Package delivery hands finished artifacts to callers. It is independent of
// and composable after the pipeline: a job can be succeeded while delivery
// still fails transiently, and callers retry delivery without re-running
// anything.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
)

const (
	DefaultMinBytes    = 500_000
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1200 * time.Millisecond
)

// Source produces the artifact bytes for a succeeded job. Implementations
// must return fully buffered data, never a live file handle.
type Source interface {
	Fetch(ctx context.Context, jobID string) (*domain.Artifact, error)
}

// Config bounds the proxy's own retry loop, which is deliberately separate
// from pipeline retries.
type Config struct {
	MinBytes    int64
	MaxAttempts int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinBytes <= 0 {
		c.MinBytes = DefaultMinBytes
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Result is a validated artifact plus delivery metadata for tracing.
type Result struct {
	Artifact *domain.Artifact
	// Attempts is how many source fetches the chain needed.
	Attempts int
	// CorrelationID spans the whole attempt chain.
	CorrelationID string
}

// Proxy fetches, validates, and retries artifact delivery.
type Proxy struct {
	source Source
	cfg    Config
	logger infra.Logger
}

// NewProxy constructs a delivery proxy over the given source.
func NewProxy(source Source, cfg Config, logger infra.Logger) *Proxy {
	return &Proxy{source: source, cfg: cfg.withDefaults(), logger: logger}
}

// Fetch buffers the artifact fully, validates its size against the minimum
// threshold, and retries sub-threshold or transient results with backoff.
// A sub-threshold body is a retryable failure distinct from transport
// failures; only after the attempt budget is spent does the caller see
// ErrDeliveryExhausted.
func (p *Proxy) Fetch(ctx context.Context, jobID string) (*Result, error) {
	correlationID := uuid.NewString()
	logger := p.logger.With().Str("job_id", jobID).Str("delivery_id", correlationID).Logger()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("delivery: %w", err)
		}

		artifact, err := p.source.Fetch(ctx, jobID)
		switch {
		case err != nil:
			if !domain.IsRetryable(err) {
				return nil, err
			}
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("delivery: fetch failed")

		case artifact.RedirectURL != "" && artifact.SizeBytes >= p.cfg.MinBytes:
			// The producing side already knows the artifact is valid; hand
			// back the redirect instruction without buffering bytes here.
			logger.Info().Int("attempt", attempt).Str("redirect", artifact.RedirectURL).
				Msg("delivery: redirect short-circuit")
			return &Result{Artifact: artifact, Attempts: attempt, CorrelationID: correlationID}, nil

		case artifact.SizeBytes >= p.cfg.MinBytes:
			logger.Info().Int("attempt", attempt).Int64("size_bytes", artifact.SizeBytes).
				Msg("delivery: artifact validated")
			return &Result{Artifact: artifact, Attempts: attempt, CorrelationID: correlationID}, nil

		default:
			lastErr = &domain.SizeError{Got: artifact.SizeBytes, Min: p.cfg.MinBytes}
			logger.Warn().Int("attempt", attempt).Int64("size_bytes", artifact.SizeBytes).
				Msg("delivery: artifact below size threshold")
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(p.cfg.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("delivery: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrDeliveryExhausted, p.cfg.MaxAttempts, lastErr)
}
