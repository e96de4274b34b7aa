package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/delivery"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/registry"
	"server/internal/storage"
)

type fakePipeline struct {
	job domain.Job
	err error
}

func (f *fakePipeline) Submit(req domain.StoryRequest) (domain.Job, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, err
	}
	return f.job, f.err
}

type fakeDelivery struct {
	res *delivery.Result
	err error
}

func (f *fakeDelivery) Fetch(ctx context.Context, jobID string) (*delivery.Result, error) {
	return f.res, f.err
}

func mustStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	return store
}

func newTestApp(t *testing.T, pipe Submitter, del Fetcher) *App {
	t.Helper()
	return NewApp(registry.New(), pipe, del, mustStore(t), &infra.Config{}, infra.NewLogger("test"))
}

func validRequestBody() string {
	return `{
		"age": 7,
		"reading_level": "simple",
		"diagnosis_summary": "autism, literal thinker",
		"situation": "joining a game at recess",
		"setting": "school playground"
	}`
}

func routeWithID(h http.HandlerFunc, method, pattern, url string, body *bytes.Buffer) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, url, body)
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobAccepted(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, &fakePipeline{job: domain.Job{ID: "job-1", Status: domain.JobStatusQueued}}, &fakeDelivery{})

	rec := routeWithID(app.CreateJob, http.MethodPost, "/v1/jobs", "/v1/jobs", bytes.NewBufferString(validRequestBody()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != "queued" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCreateJobRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, &fakePipeline{}, &fakeDelivery{})

	rec := routeWithID(app.CreateJob, http.MethodPost, "/v1/jobs", "/v1/jobs", bytes.NewBufferString(`{"age": 7}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body)
	}
}

func TestCreateJobRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, &fakePipeline{}, &fakeDelivery{})

	rec := routeWithID(app.CreateJob, http.MethodPost, "/v1/jobs", "/v1/jobs", bytes.NewBufferString(`{nope`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetJobStatus(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	job := reg.Create(domain.StoryRequest{})
	app := NewApp(reg, &fakePipeline{}, &fakeDelivery{}, mustStore(t), &infra.Config{}, infra.NewLogger("test"))

	rec := routeWithID(app.GetJob, http.MethodGet, "/v1/jobs/{id}", "/v1/jobs/"+job.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != job.ID || resp.Status != "queued" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestGetJobUnknownID(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, &fakePipeline{}, &fakeDelivery{})

	rec := routeWithID(app.GetJob, http.MethodGet, "/v1/jobs/{id}", "/v1/jobs/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadJobServesCompleteArtifact(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("v"), 2048)
	del := &fakeDelivery{res: &delivery.Result{
		Artifact: &domain.Artifact{
			Data:       data,
			SizeBytes:  int64(len(data)),
			MIMEType:   "video/mp4",
			ProducedAt: time.Now().UTC(),
		},
		Attempts:      1,
		CorrelationID: "corr-1",
	}}
	app := newTestApp(t, &fakePipeline{}, del)

	rec := routeWithID(app.DownloadJob, http.MethodGet, "/v1/jobs/{id}/download", "/v1/jobs/job-1/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "2048" {
		t.Errorf("Content-Length = %q, want 2048", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "social-story-job-1.mp4") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Body.Len() != 2048 {
		t.Errorf("body length = %d, want 2048", rec.Body.Len())
	}
}

func TestDownloadJobStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown job", err: domain.ErrJobNotFound, want: http.StatusNotFound},
		{name: "still running", err: domain.ErrJobNotReady, want: http.StatusConflict},
		{name: "job failed", err: domain.ErrJobFailed, want: http.StatusConflict},
		{name: "delivery exhausted", err: domain.ErrDeliveryExhausted, want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			app := newTestApp(t, &fakePipeline{}, &fakeDelivery{err: tc.err})
			rec := routeWithID(app.DownloadJob, http.MethodGet, "/v1/jobs/{id}/download", "/v1/jobs/job-1/download", nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct == "video/mp4" {
				t.Fatal("error response must not claim to be a video")
			}
		})
	}
}

func TestDownloadJobRedirects(t *testing.T) {
	t.Parallel()
	del := &fakeDelivery{res: &delivery.Result{
		Artifact: &domain.Artifact{
			SizeBytes:   600_000,
			MIMEType:    "video/mp4",
			RedirectURL: "https://cdn.example.com/job-1.mp4",
		},
		Attempts: 1,
	}}
	app := newTestApp(t, &fakePipeline{}, del)

	rec := routeWithID(app.DownloadJob, http.MethodGet, "/v1/jobs/{id}/download", "/v1/jobs/job-1/download", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "https://cdn.example.com/job-1.mp4" {
		t.Fatalf("Location = %q", got)
	}
}
