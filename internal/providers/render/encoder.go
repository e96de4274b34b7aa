// Package render turns a job's scene assets into the final mp4, either by
// invoking ffmpeg locally or by shipping the assets to a remote render
// worker.
package render

import (
	"context"

	"server/internal/domain"
)

// EncodeRequest carries everything the encode stage needs. Scenes must
// already be in spec order; encoders rely on it for the concat sequence.
type EncodeRequest struct {
	Scenes []domain.SceneAsset
	// SRTPath points at the subtitle track inside the working area.
	SRTPath string
	// WorkDir is scratch space for intermediate clips (the job's working area).
	WorkDir string
	// OutputPath is where the final mp4 must land.
	OutputPath string
}

// Encoder produces the final video for one job. Encoding is single-threaded
// per job; callers bound cross-job concurrency.
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}
