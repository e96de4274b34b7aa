package story

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

const openAIDefaultTimeout = 60 * time.Second

// OpenAIOptions configures the OpenAI-backed story generator.
type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIGenerator calls the chat completions API with a JSON response format
// and decodes the result into a story spec.
type OpenAIGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIGenerator constructs a generator with sane defaults.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("story: openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIGenerator{
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

// Generate fulfils the Generator interface.
func (g *OpenAIGenerator) Generate(ctx context.Context, req domain.StoryRequest) (*domain.StorySpec, error) {
	payload := chatRequest{
		Model:          g.model,
		Temperature:    0.4,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("story: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, fmt.Errorf("story: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.UpstreamError{Op: "story", Timeout: true, Err: err}
		}
		return nil, &domain.UpstreamError{Op: "story", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &domain.UpstreamError{
			Op:     "story",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("openai: %s", strings.TrimSpace(string(body))),
		}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("story: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("story: response has no choices")
	}

	var spec domain.StorySpec
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &spec); err != nil {
		return nil, fmt.Errorf("story: decode story spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("story: invalid story spec: %w", err)
	}
	return &spec, nil
}

func buildUserPrompt(req domain.StoryRequest) string {
	avoid, _ := json.Marshal(req.WordsToAvoid)
	return fmt.Sprintf(userPromptTemplate,
		req.Age, req.ReadingLevel, req.DiagnosisSummary, req.Situation, req.Setting, avoid)
}

var _ Generator = (*OpenAIGenerator)(nil)
