package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/render"
)

// maxRenderUpload caps the multipart body of a render request.
const maxRenderUpload = 512 << 20

// RenderWorker serves the remote encode endpoint used when encoding runs in
// a separate process from the API.
type RenderWorker struct {
	Encoder render.Encoder
	Logger  infra.Logger
}

// Health reports worker liveness.
func (h *RenderWorker) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type renderSceneMeta struct {
	ID          int `json:"id"`
	DurationSec int `json:"duration_sec"`
}

// Render accepts scene media plus metadata, encodes the final video, and
// responds with the complete mp4. The output file is read fully before the
// response starts so Content-Length is always exact.
func (h *RenderWorker) Render(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxRenderUpload); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	var metas []renderSceneMeta
	if err := json.Unmarshal([]byte(r.FormValue("scenes")), &metas); err != nil || len(metas) == 0 {
		http.Error(w, "scenes metadata is missing or malformed", http.StatusBadRequest)
		return
	}

	workDir, err := os.MkdirTemp("", "render-*")
	if err != nil {
		h.Logger.Error().Err(err).Msg("render: create work dir failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(workDir)

	for _, fh := range r.MultipartForm.File["files"] {
		if err := saveUpload(fh, workDir); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	subs := r.MultipartForm.File["subs"]
	if len(subs) == 0 {
		http.Error(w, "subtitle track is missing", http.StatusBadRequest)
		return
	}
	if err := saveUpload(subs[0], workDir); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	srtPath := filepath.Join(workDir, filepath.Base(subs[0].Filename))

	assets := make([]domain.SceneAsset, 0, len(metas))
	for _, m := range metas {
		asset := domain.SceneAsset{
			SceneID:     m.ID,
			ImagePath:   filepath.Join(workDir, fmt.Sprintf("scene_%d.png", m.ID)),
			AudioPath:   filepath.Join(workDir, fmt.Sprintf("scene_%d.mp3", m.ID)),
			DurationSec: m.DurationSec,
		}
		for _, p := range []string{asset.ImagePath, asset.AudioPath} {
			if _, err := os.Stat(p); err != nil {
				http.Error(w, fmt.Sprintf("media for scene %d is missing", m.ID), http.StatusBadRequest)
				return
			}
		}
		assets = append(assets, asset)
	}

	outputPath := filepath.Join(workDir, "final.mp4")
	if err := h.Encoder.Encode(r.Context(), render.EncodeRequest{
		Scenes:     assets,
		SRTPath:    srtPath,
		WorkDir:    workDir,
		OutputPath: outputPath,
	}); err != nil {
		h.Logger.Error().Err(err).Msg("render: encode failed")
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		h.Logger.Error().Err(err).Msg("render: read output failed")
		http.Error(w, "encode produced no output", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func saveUpload(fh *multipart.FileHeader, dir string) error {
	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("upload has an invalid filename")
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", name, err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("store upload %s: %w", name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("store upload %s: %w", name, err)
	}
	return nil
}
