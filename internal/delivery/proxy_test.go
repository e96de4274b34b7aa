package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

type fakeSource struct {
	calls atomic.Int32
	fn    func(call int) (*domain.Artifact, error)
}

func (f *fakeSource) Fetch(ctx context.Context, jobID string) (*domain.Artifact, error) {
	return f.fn(int(f.calls.Add(1)))
}

func artifactOf(size int) *domain.Artifact {
	return &domain.Artifact{
		Data:       make([]byte, size),
		SizeBytes:  int64(size),
		MIMEType:   "video/mp4",
		ProducedAt: time.Now().UTC(),
	}
}

func testConfig() Config {
	return Config{MinBytes: 1024, MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestFetchRetriesUndersizedArtifactUntilValid(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(call int) (*domain.Artifact, error) {
		if call < 3 {
			return artifactOf(26), nil
		}
		return artifactOf(2048), nil
	}}
	proxy := NewProxy(src, testConfig(), infra.NewLogger("test"))

	res, err := proxy.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", res.Attempts)
	}
	if res.Artifact.SizeBytes != 2048 {
		t.Fatalf("SizeBytes = %d, want 2048", res.Artifact.SizeBytes)
	}
	if res.CorrelationID == "" {
		t.Fatal("CorrelationID is empty")
	}
}

func TestFetchExhaustsOnPersistentlySmallArtifact(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(int) (*domain.Artifact, error) {
		return artifactOf(26), nil
	}}
	proxy := NewProxy(src, testConfig(), infra.NewLogger("test"))

	_, err := proxy.Fetch(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrDeliveryExhausted) {
		t.Fatalf("Fetch error = %v, want ErrDeliveryExhausted", err)
	}
	var se *domain.SizeError
	if !errors.As(err, &se) {
		t.Fatalf("Fetch error = %v, want wrapped SizeError", err)
	}
	if got := src.calls.Load(); got != 3 {
		t.Fatalf("source fetched %d times, want 3", got)
	}
}

func TestFetchStopsOnFailedJob(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(int) (*domain.Artifact, error) {
		return nil, fmt.Errorf("%w: stage image: 3 attempts exhausted", domain.ErrJobFailed)
	}}
	proxy := NewProxy(src, testConfig(), infra.NewLogger("test"))

	_, err := proxy.Fetch(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("Fetch error = %v, want ErrJobFailed", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("source fetched %d times, want 1", got)
	}
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(call int) (*domain.Artifact, error) {
		if call == 1 {
			return nil, &domain.UpstreamError{Op: "delivery", Status: 503}
		}
		return artifactOf(4096), nil
	}}
	proxy := NewProxy(src, testConfig(), infra.NewLogger("test"))

	res, err := proxy.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestFetchStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(int) (*domain.Artifact, error) {
		return nil, domain.ErrJobNotReady
	}}
	proxy := NewProxy(src, testConfig(), infra.NewLogger("test"))

	_, err := proxy.Fetch(context.Background(), "job-1")
	if !errors.Is(err, domain.ErrJobNotReady) {
		t.Fatalf("Fetch error = %v, want ErrJobNotReady", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("source fetched %d times, want 1", got)
	}
}

func TestFetchShortCircuitsOnRedirect(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(int) (*domain.Artifact, error) {
		return &domain.Artifact{
			SizeBytes:   750_000,
			MIMEType:    "video/mp4",
			RedirectURL: "https://cdn.example.com/job-1.mp4",
		}, nil
	}}
	cfg := testConfig()
	cfg.MinBytes = 500_000
	proxy := NewProxy(src, cfg, infra.NewLogger("test"))

	res, err := proxy.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if res.Artifact.RedirectURL != "https://cdn.example.com/job-1.mp4" {
		t.Fatalf("RedirectURL = %q", res.Artifact.RedirectURL)
	}
	if len(res.Artifact.Data) != 0 {
		t.Fatalf("redirect result carried %d buffered bytes", len(res.Artifact.Data))
	}
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fn: func(int) (*domain.Artifact, error) {
		return artifactOf(26), nil
	}}
	cfg := testConfig()
	cfg.Backoff = 5 * time.Second
	proxy := NewProxy(src, cfg, infra.NewLogger("test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := proxy.Fetch(ctx, "job-1")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Fetch error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Fetch did not return after cancellation")
	}
}
