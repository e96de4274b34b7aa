// Package workspace manages job-scoped working areas for intermediate stage
// outputs. Each area is owned exclusively by one job and released exactly
// once, and only after the final artifact's bytes have been captured into a
// buffer that outlives the directory. Release must never run concurrently
// with an open read of the artifact; the historical truncated-download defect
// came from exactly that race.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"server/internal/infra"
)

// Manager creates isolated working areas under a base directory.
type Manager struct {
	baseDir string
	logger  infra.Logger
}

// NewManager initializes a Manager rooted at baseDir.
func NewManager(baseDir string, logger infra.Logger) (*Manager, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("workspace: base dir is required")
	}
	root := filepath.Join(baseDir, "social-story")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: ensure base dir: %w", err)
	}
	return &Manager{baseDir: root, logger: logger}, nil
}

// Acquire creates an isolated scope for the given job.
func (m *Manager) Acquire(jobID string) (*WorkingArea, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || jobID != filepath.Base(jobID) {
		return nil, fmt.Errorf("workspace: invalid job id %q", jobID)
	}
	dir := filepath.Join(m.baseDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create working area: %w", err)
	}
	return &WorkingArea{dir: dir, jobID: jobID, logger: m.logger, remove: os.RemoveAll}, nil
}

// WorkingArea is a lifetime-scoped directory holding all intermediate files
// for one job.
type WorkingArea struct {
	dir    string
	jobID  string
	logger infra.Logger
	remove func(string) error

	releaseOnce sync.Once
}

// Dir returns the absolute directory of the working area.
func (w *WorkingArea) Dir() string { return w.dir }

// Path joins name onto the working area directory.
func (w *WorkingArea) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// WriteFile writes data under the working area.
func (w *WorkingArea) WriteFile(name string, data []byte) (string, error) {
	path := w.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return path, nil
}

// ReadFile reads a file from the working area fully into memory.
func (w *WorkingArea) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", name, err)
	}
	return data, nil
}

// Release deletes the working area. It is idempotent and deliberately
// swallows deletion errors: a leaked temp directory must not fail a job whose
// artifact is already safe.
func (w *WorkingArea) Release() {
	w.releaseOnce.Do(func() {
		if err := w.remove(w.dir); err != nil {
			w.logger.Warn().Err(err).Str("job_id", w.jobID).Str("dir", w.dir).
				Msg("workspace: release failed")
			return
		}
		w.logger.Debug().Str("job_id", w.jobID).Str("dir", w.dir).
			Msg("workspace: released")
	})
}
