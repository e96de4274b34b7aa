package image

import "context"

// Generator produces one illustration for a scene prompt and returns the raw
// image bytes. Implementations must be safe for concurrent use across scenes.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}
