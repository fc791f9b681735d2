package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize caps request bodies at 64 KB. Every route is a GET.
const maxRequestBodySize = 64 << 10

// buildRouter mounts the read-only API under /api/v1 and /metrics at the root.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such endpoint")
	})

	// Prometheus scrapers expect /metrics at the root.
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", s.handleListTags)
			r.Get("/{name}", s.handleGetTag)
		})

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Get("/history", s.handleStateHistory)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
