package rest

import (
	"net/http"

	"github.com/roach88/napper/internal/transport/middleware"
)

// NewRouter mounts the API and health routes. mw wraps the API routes;
// health probes bypass it so they are never rate limited.
func NewRouter(h *Handler, health *HealthHandler, mw middleware.Middleware) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/events", h.PostEvents)
	api.HandleFunc("GET /api/events", h.GetEvents)
	api.HandleFunc("GET /api/state", h.GetState)
	api.HandleFunc("GET /api/stream", h.Stream)
	api.HandleFunc("GET /api/sleeps", h.GetSleeps)
	api.HandleFunc("GET /api/diapers", h.GetDiapers)
	api.HandleFunc("GET /api/stats", h.GetStats)

	var apiHandler http.Handler = api
	if mw != nil {
		apiHandler = mw(api)
	}

	root := http.NewServeMux()
	root.Handle("/api/", apiHandler)
	root.HandleFunc("GET /live", health.Live)
	root.HandleFunc("GET /ready", health.Ready)
	root.HandleFunc("GET /health", health.Health)
	return root
}
