package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter wires the API surface.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.CreateJob)
		r.Get("/{id}", app.GetJob)
		r.Get("/{id}/download", app.DownloadJob)
		r.Get("/{id}/bundle", app.BundleJob)
	})

	return r
}

// NewRenderRouter wires the render worker's endpoint.
func NewRenderRouter(worker *handlers.RenderWorker, logger infra.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	r.Get("/healthz", worker.Health)
	r.Post("/render", worker.Render)
	return r
}
