package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	WorkDir     string
	StoragePath string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	ReplicateAPIToken     string
	ReplicateModelVersion string
	ReplicateBaseURL      string
	ReplicatePollInterval time.Duration
	ReplicatePollTimeout  time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsBaseURL string

	// RenderWorkerURL switches encoding to a remote worker when set.
	RenderWorkerURL string

	// DeliverySourceURL points delivery at a remote producing service when
	// production and delivery run as separate processes.
	DeliverySourceURL string

	VideoWidth  int
	VideoHeight int
	VideoFPS    int

	SceneWorkers     int
	EncodeSlots      int
	JobTimeout       time.Duration
	StageMaxAttempts int
	StageBackoff     time.Duration
	StageTimeout     time.Duration
	MinArtifactBytes int64

	DeliveryMaxAttempts int
	DeliveryBackoff     time.Duration

	AllowedOrigins   []string
	RateLimitPerMin  int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Missing provider keys are not fatal here; the
// health endpoint reports them and the relevant stage fails at run time.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		WorkDir:     getEnv("WORK_DIR", os.TempDir()),
		StoragePath: getEnv("STORAGE_PATH", "./data"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		ReplicateAPIToken:     os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateModelVersion: getEnv("REPLICATE_MODEL_VERSION", "black-forest-labs/flux-schnell"),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicatePollInterval: time.Millisecond * time.Duration(getEnvInt("REPLICATE_POLL_INTERVAL_MS", 1500)),
		ReplicatePollTimeout:  time.Second * time.Duration(getEnvInt("REPLICATE_POLL_TIMEOUT_SECONDS", 120)),

		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),

		RenderWorkerURL: os.Getenv("RENDER_WORKER_URL"),

		DeliverySourceURL: os.Getenv("DELIVERY_SOURCE_URL"),

		VideoWidth:  getEnvInt("VIDEO_WIDTH", 1280),
		VideoHeight: getEnvInt("VIDEO_HEIGHT", 720),
		VideoFPS:    getEnvInt("VIDEO_FPS", 30),

		SceneWorkers:     getEnvInt("SCENE_WORKERS", 3),
		EncodeSlots:      getEnvInt("ENCODE_SLOTS", 2),
		JobTimeout:       time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 300)),
		StageMaxAttempts: getEnvInt("STAGE_MAX_ATTEMPTS", 3),
		StageBackoff:     time.Millisecond * time.Duration(getEnvInt("STAGE_BACKOFF_MS", 1200)),
		StageTimeout:     time.Second * time.Duration(getEnvInt("STAGE_TIMEOUT_SECONDS", 120)),
		MinArtifactBytes: int64(getEnvInt("MIN_ARTIFACT_BYTES", 500_000)),

		DeliveryMaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 3),
		DeliveryBackoff:     time.Millisecond * time.Duration(getEnvInt("DELIVERY_BACKOFF_MS", 1200)),

		AllowedOrigins:   splitAndTrim(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	return cfg, nil
}

// HasAllKeys reports whether every provider credential is present. Surfaced
// by the health endpoint so operators can spot a misconfigured deployment
// before the first job fails.
func (c *Config) HasAllKeys() bool {
	for _, ok := range c.HasKeys() {
		if !ok {
			return false
		}
	}
	return true
}

// HasKeys reports per-provider credential presence, for startup logging.
func (c *Config) HasKeys() map[string]bool {
	return map[string]bool{
		"openai":     c.OpenAIAPIKey != "",
		"replicate":  c.ReplicateAPIToken != "",
		"elevenlabs": c.ElevenLabsAPIKey != "",
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
