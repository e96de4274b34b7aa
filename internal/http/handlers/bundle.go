package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/pkg/zip"
)

// BundleJob packages the finished video together with its subtitle track and
// story spec into one zip download. The video goes through the delivery proxy
// so the bundle carries the same validation guarantees as the plain download;
// sidecars are included when present.
func (a *App) BundleJob(w http.ResponseWriter, r *http.Request) {
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
			a.json(w, http.StatusBadGateway, map[string]string{"error": "artifact could not be delivered"})
		default:
			a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: bundle failed")
			a.json(w, http.StatusInternalServerError, map[string]string{"error": "bundle failed"})
		}
		return
	}

	entries := []zip.Entry{{Name: "social-story-" + id + ".mp4", Data: res.Artifact.Data}}
	if srt, err := a.Store.Read(r.Context(), "artifacts/"+id+".srt"); err == nil {
		entries = append(entries, zip.Entry{Name: "story.srt", Data: srt})
	}
	if spec, err := a.Store.Read(r.Context(), "artifacts/"+id+".json"); err == nil {
		entries = append(entries, zip.Entry{Name: "story_spec.json", Data: spec})
	}

	archive, err := zip.Archive(entries)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", id).Msg("handlers: archive failed")
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "bundle failed"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `attachment; filename="social-story-`+id+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
