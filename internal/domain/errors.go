package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotReady       = errors.New("job not ready")
	ErrJobFailed         = errors.New("job failed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeliveryExhausted = errors.New("delivery retries exhausted")
)

// UpstreamError describes a failed call to an external provider. Timeout and
// 5xx/429 responses are considered transient and retried by stage executors.
type UpstreamError struct {
	Op      string
	Status  int
	Timeout bool
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: upstream timeout", e.Op)
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream http %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: upstream error: %v", e.Op, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// SizeError indicates a produced or delivered artifact is below the minimum
// byte threshold. It is retryable and distinct from transport failures.
type SizeError struct {
	Got int64
	Min int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("artifact size %d below minimum %d", e.Got, e.Min)
}

// ContentTypeError indicates an upstream response carried an unexpected
// content type.
type ContentTypeError struct {
	Got  string
	Want string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("content type %q, want %q", e.Got, e.Want)
}

// IsRetryable reports whether the error class is worth another attempt.
// Validation of the caller's input and terminal job states are not; flaky
// upstream responses and undersized bodies are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		if up.Timeout {
			return true
		}
		return up.Status == 0 || up.Status == 429 || up.Status >= 500
	}
	var se *SizeError
	if errors.As(err, &se) {
		return true
	}
	var cte *ContentTypeError
	if errors.As(err, &cte) {
		return true
	}
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobNotReady) ||
		errors.Is(err, ErrJobFailed) || errors.Is(err, ErrDeliveryExhausted) {
		return false
	}
	// Unknown errors default to retryable so transient provider hiccups that
	// arrive as plain errors still get their attempts.
	return true
}
