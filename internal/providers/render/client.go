package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const defaultWorkerTimeout = 5 * time.Minute

// WorkerClientOptions configures the remote render worker client.
type WorkerClientOptions struct {
	BaseURL string
	// MinBytes is the floor below which a worker response is treated as
	// corrupt rather than accepted.
	MinBytes   int64
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// WorkerClient offloads encoding to a render worker over HTTP. The response
// body is read fully and validated before a single byte lands in the output
// file, so a half-written upstream response can never masquerade as a video.
type WorkerClient struct {
	baseURL  string
	minBytes int64
	client   *http.Client
	logger   *infra.Logger
}

type sceneMeta struct {
	ID          int `json:"id"`
	DurationSec int `json:"duration_sec"`
}

// NewWorkerClient constructs a remote encoder client.
func NewWorkerClient(opts WorkerClientOptions) (*WorkerClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("render: worker base url is required")
	}
	minBytes := opts.MinBytes
	if minBytes <= 0 {
		minBytes = 1024
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWorkerTimeout}
	}
	return &WorkerClient{baseURL: baseURL, minBytes: minBytes, client: client, logger: opts.Logger}, nil
}

// Encode fulfils the Encoder interface.
func (c *WorkerClient) Encode(ctx context.Context, req EncodeRequest) error {
	body, contentType, err := buildMultipart(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", body)
	if err != nil {
		return fmt.Errorf("render: build worker request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.UpstreamError{Op: "encode", Timeout: true, Err: err}
		}
		return &domain.UpstreamError{Op: "encode", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &domain.UpstreamError{
			Op:     "encode",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("render worker: %s", strings.TrimSpace(string(detail))),
		}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "video/mp4") {
		return &domain.ContentTypeError{Got: ct, Want: "video/mp4"}
	}

	// Buffer the whole response before validating; size is only knowable
	// once the body is fully received.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{Op: "encode", Err: fmt.Errorf("read worker response: %w", err)}
	}
	if int64(len(data)) < c.minBytes {
		return &domain.SizeError{Got: int64(len(data)), Min: c.minBytes}
	}

	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return fmt.Errorf("render: write output: %w", err)
	}
	return nil
}

// buildMultipart assembles the scenes metadata, per-scene media files, and
// the subtitle track into a multipart form body.
func buildMultipart(req EncodeRequest) (*bytes.Buffer, string, error) {
	metas := make([]sceneMeta, 0, len(req.Scenes))
	for _, sc := range req.Scenes {
		metas = append(metas, sceneMeta{ID: sc.SceneID, DurationSec: sc.DurationSec})
	}
	metaJSON, err := json.Marshal(metas)
	if err != nil {
		return nil, "", fmt.Errorf("render: encode scenes metadata: %w", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("scenes", string(metaJSON)); err != nil {
		return nil, "", fmt.Errorf("render: write scenes field: %w", err)
	}
	for _, sc := range req.Scenes {
		if err := attachFile(mw, "files", sc.ImagePath); err != nil {
			return nil, "", err
		}
		if err := attachFile(mw, "files", sc.AudioPath); err != nil {
			return nil, "", err
		}
	}
	if err := attachFile(mw, "subs", req.SRTPath); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("render: finalize multipart: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("render: read %s: %w", path, err)
	}
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("render: create form file %s: %w", path, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("render: write form file %s: %w", path, err)
	}
	return nil
}

var _ Encoder = (*WorkerClient)(nil)
