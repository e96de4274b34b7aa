package render

import (
	"context"

	"server/internal/infra"
)

// FallbackEncoder tries the primary encoder and, when it fails, encodes the
// same request locally. Used to keep jobs alive when the remote render worker
// is down.
type FallbackEncoder struct {
	primary  Encoder
	fallback Encoder
	logger   *infra.Logger
}

// NewFallbackEncoder composes two encoders.
func NewFallbackEncoder(primary, fallback Encoder, logger *infra.Logger) *FallbackEncoder {
	return &FallbackEncoder{primary: primary, fallback: fallback, logger: logger}
}

// Encode fulfils the Encoder interface. Cancellation is not worth a second
// encode; every other primary failure is.
func (e *FallbackEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	err := e.primary.Encode(ctx, req)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if e.logger != nil {
		e.logger.Warn().Err(err).Msg("render: primary encoder failed, falling back")
	}
	return e.fallback.Encode(ctx, req)
}

var _ Encoder = (*FallbackEncoder)(nil)
