package story

import (
	"context"

	"server/internal/domain"
)

// Generator produces a structured story spec from a caller request.
type Generator interface {
	Generate(ctx context.Context, req domain.StoryRequest) (*domain.StorySpec, error)
}
