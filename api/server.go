/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/accounts/*        Balances, ledger history, purchases
  /api/awards/*          Competition, tier, adjustment, penalty awards
  /api/submissions/*     Drop submission lifecycle
  /api/teams/*           Tile progress reads
  /api/shop/*            Catalog, purchases, refunds
  /api/reconciliation/*  Drift detection and repair
  /api/entries/*         Privileged entry removal

SECURITY NOTE:
  No authentication middleware. The bot process in front of this API is
  the only expected client and runs on the same host.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.Leaderboard)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.GetEntries)
			r.Get("/{id}/purchases", h.GetPurchases)
			r.Post("/{id}/deactivate", h.DeactivateAccount)
		})

		// Award routes
		r.Route("/awards", func(r chi.Router) {
			r.Post("/competition", h.AwardCompetition)
			r.Post("/collection-log", h.AwardClogTier)
			r.Post("/combat-achievement", h.AwardCATier)
			r.Post("/adjustment", h.Adjust)
			r.Post("/penalty", h.Penalize)
		})

		// Submission routes
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.SubmitDrop)
			r.Get("/{id}", h.GetSubmission)
			r.Post("/{id}/transition", h.TransitionSubmission)
			r.Delete("/{id}", h.PurgeSubmission)
		})

		// Tile routes
		r.Route("/teams/{team}", func(r chi.Router) {
			r.Get("/progress", h.TeamProgress)
			r.Get("/tiles/{tile}", h.TileProgress)
			r.Get("/tiles/{tile}/submissions", h.TileSubmissions)
		})

		// Shop routes
		r.Route("/shop", func(r chi.Router) {
			r.Get("/items", h.ListShopItems)
			r.Post("/purchases", h.CreatePurchase)
			r.Post("/refunds", h.CreateRefund)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/accounts/{id}", h.RecomputeAccount)
			r.Post("/accounts/{id}/repair", h.RepairAccount)
			r.Post("/tiles/recompute", h.RecomputeTile)
			r.Post("/tiles/repair", h.RepairTile)
		})

		// Privileged entry removal
		r.Delete("/entries/{id}", h.RemoveEntry)
	})

	return r
}
