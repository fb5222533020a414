// Package api assembles the trustplane HTTP surface: middleware stack,
// route table, and the handler wiring.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trustplane/trustplane/internal/api/handlers"
	"github.com/trustplane/trustplane/internal/api/middleware"
	"github.com/trustplane/trustplane/internal/config"
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth().Middleware)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Agents and their trust state
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.RegisterAgent)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Get("/promotion", h.CheckPromotion)
				r.Get("/gating", h.EvaluateAgent)
				r.Post("/gating", h.RequestPromotion)
				r.Get("/audit", h.AgentAudit)
			})
		})

		// Telemetry ingestion
		r.Post("/events", h.RecordEvent)

		// Gating sweep & global audit
		r.Post("/gating/sweep", h.RunSweep)
		r.Get("/audit", h.RecentAudit)

		// Registry introspection
		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.ListTiers)
			r.Get("/{tier}/requirements", h.TierRequirements)
		})
		r.Get("/dimensions", h.ListDimensions)
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"service": "trustplane",
			"version": cfg.Version,
		})
	}
}
