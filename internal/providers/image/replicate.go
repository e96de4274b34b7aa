package image

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
	"server/internal/infra"
)

const (
	defaultReplicateBaseURL = "https://api.replicate.com/v1"
	defaultReplicateModel   = "black-forest-labs/flux-schnell"
	defaultPollInterval     = 1500 * time.Millisecond
	defaultPollTimeout      = 120 * time.Second

	// Appended to every scene prompt to keep the illustration style consistent.
	styleSuffix = ", flat, classroom-friendly illustration, simple shapes, soft colors, clean background, no text on walls"
)

// ErrMissingToken indicates the client was configured without credentials.
var ErrMissingToken = errors.New("image: replicate api token is required")

// ReplicateOptions configures the Replicate text-to-image client.
type ReplicateOptions struct {
	APIToken string
	// Model selects either an owner/name alias or a bare version hash.
	Model        string
	BaseURL      string
	PollInterval time.Duration
	PollTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// ReplicateGenerator creates a prediction, polls it to completion, and fetches
// the resulting image bytes. It holds no per-call state and is safe for
// concurrent scene generation.
type ReplicateGenerator struct {
	token        string
	model        string
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       *http.Client
	logger       *infra.Logger
}

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Logs   string          `json:"logs"`
}

// NewReplicateGenerator constructs a client with sane defaults.
func NewReplicateGenerator(opts ReplicateOptions) (*ReplicateGenerator, error) {
	if strings.TrimSpace(opts.APIToken) == "" {
		return nil, ErrMissingToken
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultReplicateBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultReplicateModel
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ReplicateGenerator{
		token:        strings.TrimSpace(opts.APIToken),
		model:        model,
		baseURL:      baseURL,
		pollInterval: interval,
		pollTimeout:  timeout,
		client:       client,
		logger:       opts.Logger,
	}, nil
}

// Generate fulfils the Generator interface.
func (g *ReplicateGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	pred, err := g.createPrediction(ctx, prompt)
	if err != nil {
		return nil, err
	}
	outputURL, err := g.waitForOutput(ctx, pred.ID)
	if err != nil {
		return nil, err
	}
	return g.fetchImage(ctx, outputURL)
}

func (g *ReplicateGenerator) createPrediction(ctx context.Context, prompt string) (*predictionResponse, error) {
	payload := predictionRequest{
		Input: map[string]any{
			"prompt":      prompt + styleSuffix,
			"num_outputs": 1,
		},
	}

	// An owner/name selector uses the model predictions endpoint; anything
	// else is treated as a pinned version hash.
	endpoint := g.baseURL + "/predictions"
	if owner, name, ok := splitModelSelector(g.model); ok {
		endpoint = fmt.Sprintf("%s/models/%s/%s/predictions", g.baseURL, owner, name)
	} else {
		payload.Version = g.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("image: encode prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("image: build prediction request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+g.token)
	req.Header.Set("Content-Type", "application/json")

	var pred predictionResponse
	if err := g.doJSON(req, &pred); err != nil {
		return nil, err
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("image: prediction response missing id")
	}
	return &pred, nil
}

// waitForOutput polls the prediction until it reaches a terminal status or
// the poll budget is spent.
func (g *ReplicateGenerator) waitForOutput(ctx context.Context, predictionID string) (string, error) {
	deadline := time.Now().Add(g.pollTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/predictions/"+predictionID, nil)
		if err != nil {
			return "", fmt.Errorf("image: build status request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+g.token)

		var pred predictionResponse
		if err := g.doJSON(req, &pred); err != nil {
			return "", err
		}

		switch pred.Status {
		case "succeeded":
			return firstOutputURL(pred.Output)
		case "failed", "canceled":
			return "", &domain.UpstreamError{
				Op:  "image",
				Err: fmt.Errorf("replicate prediction %s: %s", pred.Status, pred.Error),
			}
		}

		if time.Now().After(deadline) {
			return "", &domain.UpstreamError{Op: "image", Timeout: true,
				Err: fmt.Errorf("replicate polling exceeded %s", g.pollTimeout)}
		}
		timer := time.NewTimer(g.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", &domain.UpstreamError{Op: "image", Timeout: true, Err: ctx.Err()}
		}
	}
}

func (g *ReplicateGenerator) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("image: build download request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "image", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{Op: "image", Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "image", Err: fmt.Errorf("read image body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &domain.SizeError{Got: 0, Min: 1}
	}
	return data, nil
}

func (g *ReplicateGenerator) doJSON(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.UpstreamError{Op: "image", Timeout: true, Err: err}
		}
		return &domain.UpstreamError{Op: "image", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamError{
			Op:     "image",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("replicate: %s", strings.TrimSpace(string(body))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("image: decode replicate response: %w", err)
	}
	return nil
}

// splitModelSelector recognizes owner/name (optionally with a :alias suffix).
func splitModelSelector(selector string) (owner, name string, ok bool) {
	base, _, _ := strings.Cut(selector, ":")
	owner, name, found := strings.Cut(base, "/")
	if !found || owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// firstOutputURL pulls the first URL out of the prediction output, which may
// be a list or a single string.
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("image: prediction succeeded without output")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 || list[0] == "" {
			return "", fmt.Errorf("image: prediction succeeded with empty output list")
		}
		return list[0], nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	return "", fmt.Errorf("image: unrecognized prediction output %s", raw)
}

var _ Generator = (*ReplicateGenerator)(nil)
