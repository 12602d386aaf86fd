package server

import (
	"net/http"
)

// NewRouter wires the public surface. The metrics handler is passed in so
// the router never learns about the Prometheus registry.
func NewRouter(api *API, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/live", api.handleLive)
	mux.HandleFunc("POST /api/session", api.handleSession)
	mux.HandleFunc("GET /api/links", api.handleLinks)
	mux.HandleFunc("GET /api/refresh", api.handleRefresh)
	mux.HandleFunc("GET /healthz", api.handleHealth)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return mux
}
