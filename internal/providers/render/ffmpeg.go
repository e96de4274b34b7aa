package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"server/internal/domain"
	"server/internal/infra"
)

// FFmpegOptions configures the local encoder.
type FFmpegOptions struct {
	BinPath string
	Width   int
	Height  int
	FPS     int
	Logger  *infra.Logger
}

// FFmpegEncoder renders scene clips, concatenates them, and burns subtitles
// using the ffmpeg binary.
type FFmpegEncoder struct {
	bin    string
	width  int
	height int
	fps    int
	logger *infra.Logger
	runCmd func(ctx context.Context, bin string, args []string) error
}

// NewFFmpegEncoder constructs a local encoder with sane defaults.
func NewFFmpegEncoder(opts FFmpegOptions) *FFmpegEncoder {
	bin := strings.TrimSpace(opts.BinPath)
	if bin == "" {
		bin = "ffmpeg"
	}
	width, height, fps := opts.Width, opts.Height, opts.FPS
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	if fps <= 0 {
		fps = 30
	}
	return &FFmpegEncoder{
		bin:    bin,
		width:  width,
		height: height,
		fps:    fps,
		logger: opts.Logger,
		runCmd: runFFmpeg,
	}
}

// Encode fulfils the Encoder interface.
func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	if len(req.Scenes) == 0 {
		return fmt.Errorf("render: no scenes to encode")
	}

	clipPaths := make([]string, 0, len(req.Scenes))
	for _, scene := range req.Scenes {
		clip := filepath.Join(req.WorkDir, fmt.Sprintf("scene_%d.mp4", scene.SceneID))
		args := e.sceneClipArgs(scene, clip)
		if err := e.runCmd(ctx, e.bin, args); err != nil {
			return fmt.Errorf("render: scene %d clip: %w", scene.SceneID, err)
		}
		clipPaths = append(clipPaths, clip)
	}

	listPath := filepath.Join(req.WorkDir, "concat.txt")
	if err := writeConcatList(listPath, clipPaths); err != nil {
		return err
	}
	concatPath := filepath.Join(req.WorkDir, "tmp_concat.mp4")
	if err := e.runCmd(ctx, e.bin, concatArgs(listPath, concatPath)); err != nil {
		return fmt.Errorf("render: concat: %w", err)
	}

	if err := e.runCmd(ctx, e.bin, burnSubsArgs(concatPath, req.SRTPath, req.OutputPath)); err != nil {
		return fmt.Errorf("render: burn subtitles: %w", err)
	}
	return nil
}

// sceneClipArgs builds the argv for one still-image-plus-audio clip with a
// slow zoom, matching the service's house style for scene clips.
func (e *FFmpegEncoder) sceneClipArgs(scene domain.SceneAsset, outPath string) []string {
	frames := scene.DurationSec * e.fps
	filter := fmt.Sprintf(
		"[0:v]zoompan=z='min(zoom+0.0008,1.08)':d=%d:s=%dx%d,format=yuv420p[v]",
		frames, e.width, e.height)
	return []string{
		"-y",
		"-loop", "1",
		"-i", scene.ImagePath,
		"-i", scene.AudioPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "1:a",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(e.fps),
		"-t", strconv.Itoa(scene.DurationSec),
		"-c:a", "aac",
		"-shortest",
		outPath,
	}
}

func concatArgs(listPath, outPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	}
}

func burnSubsArgs(inPath, srtPath, outPath string) []string {
	return []string{
		"-y",
		"-i", inPath,
		"-vf", "subtitles=" + srtPath,
		"-c:a", "copy",
		outPath,
	}
}

func writeConcatList(listPath string, clipPaths []string) error {
	var b strings.Builder
	for _, p := range clipPaths {
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("render: write concat list: %w", err)
	}
	return nil
}

func runFFmpeg(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 2048 {
			detail = detail[len(detail)-2048:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, detail)
	}
	return nil
}

var _ Encoder = (*FFmpegEncoder)(nil)
