// Package pipeline drives a job through its generation stages: story spec,
// per-scene assets, encode, artifact capture. One orchestrator run owns one
// job; the registry is the only cross-job shared structure.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/image"
	"server/internal/providers/render"
	"server/internal/providers/speech"
	"server/internal/providers/story"
	"server/internal/registry"
	"server/internal/stage"
	"server/internal/storage"
	"server/internal/workspace"
)

// Config bounds pipeline concurrency and retry behaviour.
type Config struct {
	// SceneWorkers caps concurrent scene asset generation within one job.
	SceneWorkers int
	// EncodeSlots caps concurrent encodes across all jobs.
	EncodeSlots int64
	// JobTimeout is the hard wall-clock budget for one job.
	JobTimeout time.Duration
	// StageMaxAttempts and StageBackoff parameterize every stage executor.
	StageMaxAttempts int
	StageBackoff     time.Duration
	// StageTimeout bounds a single stage attempt.
	StageTimeout time.Duration
	// MinArtifactBytes is the capture-time validity floor for the final mp4.
	MinArtifactBytes int64
}

func (c Config) withDefaults() Config {
	if c.SceneWorkers <= 0 {
		c.SceneWorkers = 3
	}
	if c.EncodeSlots <= 0 {
		c.EncodeSlots = 2
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.StageMaxAttempts <= 0 {
		c.StageMaxAttempts = stage.DefaultMaxAttempts
	}
	if c.StageBackoff <= 0 {
		c.StageBackoff = stage.DefaultBackoff
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 2 * time.Minute
	}
	if c.MinArtifactBytes <= 0 {
		c.MinArtifactBytes = 500_000
	}
	return c
}

// Orchestrator sequences stages for submitted jobs and mutates their records
// in the registry. It is the single writer for every job it runs.
type Orchestrator struct {
	registry  *registry.Registry
	areas     *workspace.Manager
	story     story.Generator
	images    image.Generator
	speech    speech.Synthesizer
	encoder   render.Encoder
	store     *storage.FileStore
	cfg       Config
	logger    infra.Logger
	encodeSem *semaphore.Weighted

	rootCtx context.Context
	wg      sync.WaitGroup
}

// New wires an orchestrator. rootCtx scopes all job runs; cancelling it
// aborts in-flight jobs on shutdown.
func New(
	rootCtx context.Context,
	reg *registry.Registry,
	areas *workspace.Manager,
	storyGen story.Generator,
	imageGen image.Generator,
	synth speech.Synthesizer,
	encoder render.Encoder,
	store *storage.FileStore,
	cfg Config,
	logger infra.Logger,
) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		registry:  reg,
		areas:     areas,
		story:     storyGen,
		images:    imageGen,
		speech:    synth,
		encoder:   encoder,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		encodeSem: semaphore.NewWeighted(cfg.EncodeSlots),
		rootCtx:   rootCtx,
	}
}

// Submit validates the request, registers a queued job, and starts its run in
// the background.
func (o *Orchestrator) Submit(req domain.StoryRequest) (domain.Job, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}
	job := o.registry.Create(req)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job.ID, req)
	}()
	return job, nil
}

// Wait blocks until all in-flight job runs have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) run(jobID string, req domain.StoryRequest) {
	ctx, cancel := context.WithTimeout(o.rootCtx, o.cfg.JobTimeout)
	defer cancel()

	logger := o.logger.With().Str("job_id", jobID).Logger()

	if err := o.registry.MarkRunning(jobID); err != nil {
		logger.Error().Err(err).Msg("pipeline: mark running failed")
		return
	}

	area, err := o.areas.Acquire(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline: acquire working area failed")
		o.fail(jobID, fmt.Sprintf("acquire working area: %v", err), logger)
		return
	}

	ref, size, err := o.execute(ctx, jobID, req, area, logger)
	if err != nil {
		// Release before recording the terminal state; there is nothing left
		// in the area worth keeping on failure.
		area.Release()
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("job timed out after %s", o.cfg.JobTimeout)
		}
		logger.Error().Err(err).Msg("pipeline: job failed")
		o.fail(jobID, msg, logger)
		return
	}

	if err := o.registry.MarkSucceeded(jobID, ref, size); err != nil {
		logger.Error().Err(err).Msg("pipeline: mark succeeded failed")
		return
	}
	logger.Info().Str("artifact", ref).Int64("size_bytes", size).Msg("pipeline: job succeeded")
}

func (o *Orchestrator) fail(jobID, msg string, logger infra.Logger) {
	if err := o.registry.MarkFailed(jobID, msg); err != nil {
		logger.Error().Err(err).Msg("pipeline: mark failed failed")
	}
}

// execute runs the stage sequence and returns the stored artifact reference.
// On success the working area has already been released: capture into the
// store strictly precedes release, which is the ordering that prevents
// truncated artifacts.
func (o *Orchestrator) execute(ctx context.Context, jobID string, req domain.StoryRequest, area *workspace.WorkingArea, logger infra.Logger) (string, int64, error) {
	spec, err := stage.Do(ctx, o.stageConfig("story_spec"), logger, func(ctx context.Context) (*domain.StorySpec, error) {
		return o.story.Generate(ctx, req)
	})
	if err != nil {
		return "", 0, err
	}
	logger.Info().Int("scenes", len(spec.Scenes)).Msg("pipeline: story spec generated")

	specJSON, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("encode story spec: %w", err)
	}
	if _, err := area.WriteFile("story_spec.json", specJSON); err != nil {
		logger.Warn().Err(err).Msg("pipeline: persist story spec failed")
	}
	if _, err := area.WriteFile("story.srt", []byte(spec.SRT)); err != nil {
		return "", 0, err
	}

	assets, err := o.generateSceneAssets(ctx, spec, area, logger)
	if err != nil {
		return "", 0, err
	}

	finalName := "final.mp4"
	if err := o.encode(ctx, spec, assets, area, finalName, logger); err != nil {
		return "", 0, err
	}

	// Capture fully into memory, persist outside the working area, and only
	// then release. Never stream from a file a cleanup path could delete.
	data, err := area.ReadFile(finalName)
	if err != nil {
		return "", 0, err
	}
	if int64(len(data)) < o.cfg.MinArtifactBytes {
		return "", 0, &domain.SizeError{Got: int64(len(data)), Min: o.cfg.MinArtifactBytes}
	}
	key, err := o.store.Write(ctx, "artifacts/"+jobID+".mp4", data)
	if err != nil {
		return "", 0, fmt.Errorf("persist artifact: %w", err)
	}
	// Sidecars for the bundle download. Best effort: the video alone decides
	// whether the job succeeded.
	if _, err := o.store.Write(ctx, "artifacts/"+jobID+".srt", []byte(spec.SRT)); err != nil {
		logger.Warn().Err(err).Msg("pipeline: persist subtitles failed")
	}
	if _, err := o.store.Write(ctx, "artifacts/"+jobID+".json", specJSON); err != nil {
		logger.Warn().Err(err).Msg("pipeline: persist story spec failed")
	}
	area.Release()

	return key, int64(len(data)), nil
}

// generateSceneAssets fans scene work out to a bounded pool. Results are
// slotted by scene id, so the returned slice is in spec order no matter
// which scenes finish first. Any scene exhausting its retries cancels the
// rest: the pipeline is all-or-nothing.
func (o *Orchestrator) generateSceneAssets(ctx context.Context, spec *domain.StorySpec, area *workspace.WorkingArea, logger infra.Logger) ([]domain.SceneAsset, error) {
	assets := make([]domain.SceneAsset, len(spec.Scenes))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SceneWorkers)
	for _, scene := range spec.Scenes {
		scene := scene
		g.Go(func() error {
			asset, err := o.generateOneScene(groupCtx, scene, area, logger)
			if err != nil {
				return fmt.Errorf("scene %d: %w", scene.ID, err)
			}
			assets[scene.ID] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (o *Orchestrator) generateOneScene(ctx context.Context, scene domain.Scene, area *workspace.WorkingArea, logger infra.Logger) (domain.SceneAsset, error) {
	imgData, err := stage.Do(ctx, o.stageConfig("image"), logger, func(ctx context.Context) ([]byte, error) {
		return o.images.Generate(ctx, scene.ImagePrompt)
	})
	if err != nil {
		return domain.SceneAsset{}, err
	}
	imgPath, err := area.WriteFile(fmt.Sprintf("scene_%d.png", scene.ID), imgData)
	if err != nil {
		return domain.SceneAsset{}, err
	}

	audioData, err := stage.Do(ctx, o.stageConfig("audio"), logger, func(ctx context.Context) ([]byte, error) {
		return o.speech.Synthesize(ctx, scene.Script)
	})
	if err != nil {
		return domain.SceneAsset{}, err
	}
	audioPath, err := area.WriteFile(fmt.Sprintf("scene_%d.mp3", scene.ID), audioData)
	if err != nil {
		return domain.SceneAsset{}, err
	}

	logger.Debug().Int("scene_id", scene.ID).Msg("pipeline: scene assets generated")
	return domain.SceneAsset{
		SceneID:     scene.ID,
		ImagePath:   imgPath,
		AudioPath:   audioPath,
		DurationSec: scene.DurationSec,
	}, nil
}

// encode holds a global slot while the encoder runs; encoders are CPU and
// memory heavy, so cross-job encode concurrency is capped.
func (o *Orchestrator) encode(ctx context.Context, spec *domain.StorySpec, assets []domain.SceneAsset, area *workspace.WorkingArea, finalName string, logger infra.Logger) error {
	if err := o.encodeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.encodeSem.Release(1)

	_, err := stage.Do(ctx, o.stageConfig("encode"), logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.encoder.Encode(ctx, render.EncodeRequest{
			Scenes:     assets,
			SRTPath:    area.Path("story.srt"),
			WorkDir:    area.Dir(),
			OutputPath: area.Path(finalName),
		})
	})
	return err
}

func (o *Orchestrator) stageConfig(name string) stage.Config {
	return stage.Config{
		Name:        name,
		MaxAttempts: o.cfg.StageMaxAttempts,
		Backoff:     o.cfg.StageBackoff,
		Timeout:     o.cfg.StageTimeout,
	}
}
