// Package api wires the HTTP routes of the recommendation service.
package api

import (
	"net/http"

	"github.com/storefront-ai/recommender/internal/api/handlers"
	"github.com/storefront-ai/recommender/internal/api/middleware"
	"github.com/storefront-ai/recommender/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)

	// Catalog
	r.Get("/categories", h.ListCategories)

	// Recommendations
	r.Route("/recommend", func(r chi.Router) {
		r.Get("/", h.RecommendQuery)
		r.Post("/", h.Recommend)
	})

	// Admin
	auth := middleware.NewAPIKeyAuth(cfg.Auth.AdminAPIKeys)
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/keys/reset", h.ResetKeys)
		r.Route("/product-requests", func(r chi.Router) {
			r.Get("/", h.ListProductRequests)
			r.Patch("/{id}", h.UpdateProductRequest)
		})
	})

	return r
}
