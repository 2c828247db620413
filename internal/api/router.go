// Package api exposes the task pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/paper-whisperer/internal/observability"
	"github.com/spherical/paper-whisperer/internal/pipeline"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Version        string
}

// NewRouter creates the API router with all routes configured.
func NewRouter(p *pipeline.Pipeline, cfg RouterConfig, logger *observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Nop()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.AllowedOrigins))

	h := NewHandler(p, cfg, logger)

	r.Get("/health", h.Health)
	r.Get("/tasks", h.ListTasks)

	// Uploads stream large bodies, so the timeout only wraps the quick routes.
	r.Post("/upload", h.Upload)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}
		r.Post("/analyze", h.Analyze)
		r.Get("/status/{taskID}", h.Status)
		r.Get("/result/{taskID}", h.Result)
		r.Get("/download/{kind}/{taskID}", h.Download)
	})

	return r
}
