package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreateJob accepts a story request, registers a job, and returns 202 while
// the pipeline runs in the background.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.StoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	job, err := a.Pipeline.Submit(req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			a.json(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: submit failed")
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "could not accept job"})
		return
	}

	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: string(job.Status)})
}

// GetJob reports the current status of a job. Callers poll this until the
// job is terminal.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Registry.Get(id)
	if err != nil {
		a.json(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	a.json(w, http.StatusOK, jobResponse{JobID: job.ID, Status: string(job.Status), Error: job.ErrorMessage})
}

// DownloadJob streams the finished artifact. The body is fully buffered and
// validated by the delivery proxy before the first byte is written, so the
// response is either complete or an error status, never a truncated video.
func (a *App) DownloadJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := a.Delivery.Fetch(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			a.json(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		case errors.Is(err, domain.ErrJobNotReady):
			a.json(w, http.StatusConflict, map[string]string{"error": "job is not finished yet"})
		case errors.Is(err, domain.ErrJobFailed):
			a.json(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, domain.ErrDeliveryExhausted):
			a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: delivery exhausted")
			a.json(w, http.StatusBadGateway, map[string]string{"error": "artifact could not be delivered"})
		default:
			a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: download failed")
			a.json(w, http.StatusInternalServerError, map[string]string{"error": "download failed"})
		}
		return
	}

	if res.Artifact.RedirectURL != "" {
		http.Redirect(w, r, res.Artifact.RedirectURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", res.Artifact.MIMEType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Artifact.SizeBytes, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "social-story-"+id+".mp4"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Artifact.Data)
}
