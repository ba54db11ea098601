/**
 * @description
 * HTTP router setup for the ingest API using go-chi/chi.
 */
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the ingest routes. POST routes and
// the ledger lookup require a bearer token when jwtSecret is set.
func NewRouter(h *Handler, jwtSecret string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))
		r.Post("/eposh-induction", h.handleEposhInduction)
		r.Post("/kib", h.handleKIB)
		r.Get("/sync-outcomes/{identityNumber}", h.handleGetOutcome)
	})

	return r
}

// NewMetricsRouter serves /health and /metrics for the worker.
func NewMetricsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
