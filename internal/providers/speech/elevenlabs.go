// Package speech synthesizes per-scene narration audio.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

const (
	defaultElevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	defaultSpeechTimeout     = 60 * time.Second
)

// Synthesizer converts narration text into audio bytes. Implementations must
// be safe for concurrent use across scenes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ElevenLabsOptions configures the TTS client.
type ElevenLabsOptions struct {
	APIKey     string
	VoiceID    string
	BaseURL    string
	HTTPClient *http.Client
}

// ElevenLabsClient calls the text-to-speech endpoint and returns mp3 bytes.
type ElevenLabsClient struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
	OutputFormat  string        `json:"output_format"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsClient constructs a TTS client.
func NewElevenLabsClient(opts ElevenLabsOptions) (*ElevenLabsClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("speech: elevenlabs api key is required")
	}
	if strings.TrimSpace(opts.VoiceID) == "" {
		return nil, errors.New("speech: elevenlabs voice id is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultElevenLabsBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSpeechTimeout}
	}
	return &ElevenLabsClient{
		apiKey:  strings.TrimSpace(opts.APIKey),
		voiceID: strings.TrimSpace(opts.VoiceID),
		baseURL: baseURL,
		client:  client,
	}, nil
}

// Synthesize fulfils the Synthesizer interface.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := ttsRequest{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		OutputFormat: "mp3_22050_32",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	url := c.baseURL + "/text-to-speech/" + c.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.UpstreamError{Op: "audio", Timeout: true, Err: err}
		}
		return nil, &domain.UpstreamError{Op: "audio", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &domain.UpstreamError{
			Op:     "audio",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("elevenlabs: %s", strings.TrimSpace(string(detail))),
		}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") {
		return nil, &domain.ContentTypeError{Got: ct, Want: "audio/*"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "audio", Err: fmt.Errorf("read audio body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &domain.SizeError{Got: 0, Min: 1}
	}
	return data, nil
}

var _ Synthesizer = (*ElevenLabsClient)(nil)
