/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for an operator frontend

ROUTE GROUPS:
  /api/units/*          Inventory management
  /api/availability     Compatible-stock summary
  /api/donations        Donation intake
  /api/periods          Collection periods
  /api/demands/*        Demand lifecycle
  /api/rules            Compatibility table

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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Inventory routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.CreateUnit)
			r.Get("/{id}", h.GetUnit)
			r.Post("/{id}/discard", h.DiscardUnit)
		})

		r.Get("/availability", h.GetAvailability)
		r.Post("/donations", h.RecordDonation)
		r.Post("/periods", h.CreatePeriod)

		// Demand routes
		r.Route("/demands", func(r chi.Router) {
			r.Get("/", h.ListDemands)
			r.Post("/", h.CreateDemand)
			r.Post("/urgent", h.CreateUrgentDemand)
			r.Get("/{id}", h.GetDemand)
			r.Post("/{id}/resolve-type", h.ResolveType)
			r.Get("/{id}/plan", h.PlanDemand)
			r.Post("/{id}/approve", h.ApproveDemand)
			r.Post("/{id}/assign", h.AssignDemand)
			r.Post("/{id}/complete", h.CompleteDemand)
			r.Post("/{id}/cancel", h.CancelDemand)
			r.Post("/{id}/reject", h.RejectDemand)
		})

		// Rule routes
		r.Get("/rules", h.ListRules)
		r.Put("/rules", h.UpdateRules)
	})

	return r
}
