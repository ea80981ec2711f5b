/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Actor:      X-Actor-ID / X-Actor-Role identity extraction

ROUTE GROUPS:
  /api/resources/*        Resource management + capacity reports
  /api/clients/*          Client management
  /api/projects/*         Project management
  /api/tasks/*            Task lifecycle incl. completion
  /api/margin/*           Cascade preview
  /api/assignments/*      Margin record commit/list
  /api/bonuses/*          Evaluation and disposition
  /api/ledger/*           Derived credit/debit positions
  /api/redistributions/*  Hour-transfer ledger
  /api/overview           Budget rollup
  /api/audit              Audit trail
  /health                 Liveness probe
  /metrics                Prometheus scrape endpoint

SECURITY NOTE:
  Identity comes from gateway-injected headers; no authentication happens
  in this process.

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))
	r.Use(ActorMiddleware)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.ListResources)
			r.Post("/", h.CreateResource)
			r.Get("/{id}", h.GetResource)
			r.Get("/{id}/capacity", h.GetResourceCapacity)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Get("/{id}", h.GetTask)
			r.Post("/{id}/complete", h.CompleteTask)
		})

		r.Post("/margin/preview", h.PreviewMargin)

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.CreateAssignment)
		})

		r.Route("/bonuses", func(r chi.Router) {
			r.Get("/", h.ListBonuses)
			r.Post("/evaluate", h.EvaluateBonus)
			r.Post("/{id}/dispose", h.DisposeBonus)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/credits", h.ListCredits)
			r.Get("/debits", h.ListDebits)
		})

		r.Route("/redistributions", func(r chi.Router) {
			r.Get("/", h.ListRedistributions)
			r.Post("/", h.CreateRedistribution)
			r.Delete("/{id}", h.CancelRedistribution)
		})

		r.Get("/overview", h.GetOverview)
		r.Get("/audit", h.QueryAudit)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
