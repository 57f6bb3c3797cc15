package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nhle/email-mcp/internal/metrics"
)

// RegisterToolRoutes registers tool listing and invocation routes.
func RegisterToolRoutes(r chi.Router, handler *Handler) {
	r.Route("/tools", func(r chi.Router) {
		// GET /tools - List tools
		r.Get("/", handler.ListTools)

		// POST /tools/:name - Call a tool
		r.Post("/{name}", handler.CallTool)
	})
}

// NewRouter builds the HTTP router with the standard middleware chain.
func NewRouter(handler *Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(StructuredLogger(log))
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health)
	r.Handle("/metrics", metrics.Handler())
	RegisterToolRoutes(r, handler)

	return r
}
