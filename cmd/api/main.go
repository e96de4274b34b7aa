package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/delivery"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/providers/image"
	"server/internal/providers/render"
	"server/internal/providers/speech"
	"server/internal/providers/story"
	"server/internal/registry"
	"server/internal/storage"
	"server/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	for name, ok := range cfg.HasKeys() {
		if !ok {
			logger.Warn().Str("provider", name).Msg("api key is not configured")
		}
	}

	reg := registry.New()

	areas, err := workspace.NewManager(cfg.WorkDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare work dir")
	}
	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare artifact store")
	}

	storyGen, err := story.NewOpenAIGenerator(story.OpenAIOptions{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure story generator")
	}
	imageGen, err := image.NewReplicateGenerator(image.ReplicateOptions{
		APIToken:     cfg.ReplicateAPIToken,
		Model:        cfg.ReplicateModelVersion,
		BaseURL:      cfg.ReplicateBaseURL,
		PollInterval: cfg.ReplicatePollInterval,
		PollTimeout:  cfg.ReplicatePollTimeout,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image generator")
	}
	synth, err := speech.NewElevenLabsClient(speech.ElevenLabsOptions{
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		BaseURL: cfg.ElevenLabsBaseURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure speech synthesizer")
	}

	ffmpeg := render.NewFFmpegEncoder(render.FFmpegOptions{
		Width:  cfg.VideoWidth,
		Height: cfg.VideoHeight,
		FPS:    cfg.VideoFPS,
		Logger: &logger,
	})
	var encoder render.Encoder = ffmpeg
	if cfg.RenderWorkerURL != "" {
		worker, err := render.NewWorkerClient(render.WorkerClientOptions{
			BaseURL:  cfg.RenderWorkerURL,
			MinBytes: cfg.MinArtifactBytes,
			Logger:   &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure render worker client")
		}
		// Worker first, local ffmpeg when the worker is unreachable or
		// returns a bad body.
		encoder = render.NewFallbackEncoder(worker, ffmpeg, &logger)
		logger.Info().Str("worker", cfg.RenderWorkerURL).Msg("encoding via remote render worker with local fallback")
	}

	// rootCtx aborts in-flight jobs on shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := pipeline.New(rootCtx, reg, areas, storyGen, imageGen, synth, encoder, store, pipeline.Config{
		SceneWorkers:     cfg.SceneWorkers,
		EncodeSlots:      int64(cfg.EncodeSlots),
		JobTimeout:       cfg.JobTimeout,
		StageMaxAttempts: cfg.StageMaxAttempts,
		StageBackoff:     cfg.StageBackoff,
		StageTimeout:     cfg.StageTimeout,
		MinArtifactBytes: cfg.MinArtifactBytes,
	}, logger)

	var source delivery.Source = delivery.NewStoreSource(reg, store)
	if cfg.DeliverySourceURL != "" {
		source, err = delivery.NewHTTPSource(cfg.DeliverySourceURL, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure delivery source")
		}
		logger.Info().Str("source", cfg.DeliverySourceURL).Msg("delivering artifacts from remote producer")
	}
	proxy := delivery.NewProxy(source, delivery.Config{
		MinBytes:    cfg.MinArtifactBytes,
		MaxAttempts: cfg.DeliveryMaxAttempts,
		Backoff:     cfg.DeliveryBackoff,
	}, logger)

	app := handlers.NewApp(reg, orch, proxy, store, cfg, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-rootCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	orch.Wait()
	logger.Info().Msg("server stopped")
}
