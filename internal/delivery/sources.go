package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/registry"
	"server/internal/storage"
)

// StoreSource reads captured artifacts from the local file store. This is
// the producing side in a single-process deployment.
type StoreSource struct {
	registry *registry.Registry
	store    *storage.FileStore
}

// NewStoreSource constructs a source over the registry and file store.
func NewStoreSource(reg *registry.Registry, store *storage.FileStore) *StoreSource {
	return &StoreSource{registry: reg, store: store}
}

// Fetch fulfils the Source interface. Only succeeded jobs expose bytes; a
// running job yields ErrJobNotReady and a failed one ErrJobFailed.
func (s *StoreSource) Fetch(ctx context.Context, jobID string) (*domain.Artifact, error) {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusSucceeded:
	case domain.JobStatusFailed:
		return nil, fmt.Errorf("%w: %s", domain.ErrJobFailed, job.ErrorMessage)
	default:
		return nil, domain.ErrJobNotReady
	}

	data, err := s.store.Read(ctx, job.ArtifactRef)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", job.ArtifactRef, err)
	}
	return &domain.Artifact{
		Data:       data,
		SizeBytes:  int64(len(data)),
		MIMEType:   "video/mp4",
		ProducedAt: job.UpdatedAt,
	}, nil
}

var _ Source = (*StoreSource)(nil)

// HTTPSource re-fetches the artifact over HTTP for deployments where
// production and delivery run as separate processes. The response is fully
// buffered before it is returned; validation happens in the proxy.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs a source that fetches from the producing service.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("delivery: source base url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPSource{baseURL: baseURL, client: client}, nil
}

// Fetch fulfils the Source interface.
func (s *HTTPSource) Fetch(ctx context.Context, jobID string) (*domain.Artifact, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s/download", s.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("delivery: build fetch request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.UpstreamError{Op: "delivery", Timeout: true, Err: err}
		}
		return nil, &domain.UpstreamError{Op: "delivery", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrJobNotFound
	case http.StatusConflict:
		return nil, domain.ErrJobNotReady
	default:
		return nil, &domain.UpstreamError{Op: "delivery", Status: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "video/mp4") {
		return nil, &domain.ContentTypeError{Got: ct, Want: "video/mp4"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Op: "delivery", Err: fmt.Errorf("read body: %w", err)}
	}
	return &domain.Artifact{
		Data:       data,
		SizeBytes:  int64(len(data)),
		MIMEType:   "video/mp4",
		ProducedAt: time.Now().UTC(),
	}, nil
}

var _ Source = (*HTTPSource)(nil)
