/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the admin front end

ROUTE GROUPS:
  /api/dashboard         Aggregated counters
  /api/staff/*           Staff advances
  /api/students/*        ID cards
  /api/reconciliation/*  Reconciliation history
  /api/session           Login state
  /healthz               Liveness

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

// NewRouter creates a new router with all routes configured. allowedOrigins
// are the front end origins permitted by CORS.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)

		r.Route("/staff", func(r chi.Router) {
			r.Get("/advances", h.ListStaffAdvances)
			r.Get("/{id}/advance", h.GetStaffAdvance)
			r.Post("/{id}/advances", h.SubmitAdvance)
		})

		r.Get("/students/idcards", h.ListIDCards)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{id}/unresolved", h.GetRunUnresolved)
		})

		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/", h.PutSession)
			r.Delete("/", h.DeleteSession)
		})
	})

	return r
}
