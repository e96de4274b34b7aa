// Package handlers implements the HTTP surface of the service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/delivery"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/registry"
	"server/internal/storage"
)

// Submitter accepts a validated request and starts a job for it.
type Submitter interface {
	Submit(req domain.StoryRequest) (domain.Job, error)
}

// Fetcher delivers a validated artifact for a succeeded job.
type Fetcher interface {
	Fetch(ctx context.Context, jobID string) (*delivery.Result, error)
}

type App struct {
	Registry *registry.Registry
	Pipeline Submitter
	Delivery Fetcher
	Store    *storage.FileStore
	Config   *infra.Config
	Logger   infra.Logger
}

func NewApp(reg *registry.Registry, pipe Submitter, del Fetcher, store *storage.FileStore, cfg *infra.Config, logger infra.Logger) *App {
	return &App{Registry: reg, Pipeline: pipe, Delivery: del, Store: store, Config: cfg, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
