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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/deals/*          Deals and recalculation
  /api/people/*         People and reporting chains
  /api/plans/*          Pay plan management
  /api/commissions/*    Commission status workflow
  /api/admin/*          Assignment administration
  /api/snapshots/*      Org snapshot lookup
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		// Deal routes
		r.Route("/deals", func(r chi.Router) {
			r.Get("/", h.ListDeals)
			r.Post("/", h.CreateDeal)
			r.Get("/{id}", h.GetDeal)
			r.Post("/{id}/recalculate", h.Recalculate)
			r.Get("/{id}/commissions", h.GetDealCommissions)
			r.Get("/{id}/activity", h.GetDealActivity)
		})

		// People routes
		r.Route("/people", func(r chi.Router) {
			r.Get("/", h.ListPeople)
			r.Post("/", h.CreatePerson)
			r.Get("/{id}", h.GetPerson)
			r.Get("/{id}/chain", h.GetPersonChain)
			r.Get("/{id}/assignments", h.GetPersonAssignments)
		})

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
		})

		// Commission workflow routes
		r.Route("/commissions", func(r chi.Router) {
			r.Post("/{id}/status", h.UpdateCommissionStatus)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/assignments", h.CreateAssignment)
		})

		// Snapshot routes
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/{id}", h.GetSnapshot)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Minimal index so hitting the root in a browser is not a 404.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Commission Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Commission Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/deals">/api/deals</a> - List deals</li>
<li><a href="/api/people">/api/people</a> - List people</li>
<li><a href="/api/plans">/api/plans</a> - List pay plans</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
