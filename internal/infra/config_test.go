package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SceneWorkers != 3 {
		t.Errorf("SceneWorkers = %d, want 3", cfg.SceneWorkers)
	}
	if cfg.EncodeSlots != 2 {
		t.Errorf("EncodeSlots = %d, want 2", cfg.EncodeSlots)
	}
	if cfg.JobTimeout != 5*time.Minute {
		t.Errorf("JobTimeout = %s, want 5m", cfg.JobTimeout)
	}
	if cfg.MinArtifactBytes != 500_000 {
		t.Errorf("MinArtifactBytes = %d, want 500000", cfg.MinArtifactBytes)
	}
	if cfg.DeliveryBackoff != 1200*time.Millisecond {
		t.Errorf("DeliveryBackoff = %s, want 1.2s", cfg.DeliveryBackoff)
	}
	if cfg.VideoWidth != 1280 || cfg.VideoHeight != 720 || cfg.VideoFPS != 30 {
		t.Errorf("video geometry = %dx%d@%d, want 1280x720@30", cfg.VideoWidth, cfg.VideoHeight, cfg.VideoFPS)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SCENE_WORKERS", "6")
	t.Setenv("STAGE_BACKOFF_MS", "250")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RENDER_WORKER_URL", "http://render:8090")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.SceneWorkers != 6 {
		t.Errorf("SceneWorkers = %d, want 6", cfg.SceneWorkers)
	}
	if cfg.StageBackoff != 250*time.Millisecond {
		t.Errorf("StageBackoff = %s, want 250ms", cfg.StageBackoff)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.RenderWorkerURL != "http://render:8090" {
		t.Errorf("RenderWorkerURL = %q", cfg.RenderWorkerURL)
	}
}

func TestHasKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REPLICATE_API_TOKEN", "")
	t.Setenv("ELEVENLABS_API_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	keys := cfg.HasKeys()
	if !keys["openai"] {
		t.Error("openai key should be reported present")
	}
	if keys["replicate"] || keys["elevenlabs"] {
		t.Errorf("keys = %v, want only openai present", keys)
	}
	if cfg.HasAllKeys() {
		t.Error("HasAllKeys = true with missing provider keys")
	}

	t.Setenv("REPLICATE_API_TOKEN", "r8-test")
	t.Setenv("ELEVENLABS_API_KEY", "el-test")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.HasAllKeys() {
		t.Error("HasAllKeys = false with all provider keys set")
	}
}
