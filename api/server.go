/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for an admin frontend

ROUTE GROUPS:
  /api/dues/*        Due generation, advance application, waiver
  /api/payments/*    Bulk entry, approval, reconcile webhook, reversal
  /api/members/*     Balance, audit trail, open dues, cap check
  /api/categories/*  Collaborator data

SECURITY NOTE:
  No authentication middleware; the engine is expected to sit behind the
  organization's gateway, which also maps auth onto X-Tenant-ID.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Due routes
		r.Route("/dues", func(r chi.Router) {
			r.Post("/generate", h.GenerateDues)
			r.Get("/{id}", h.GetDue)
			r.Post("/{id}/apply-advance", h.ApplyAdvance)
			r.Post("/{id}/waive", h.WaiveDue)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/bulk", h.BulkPayments)
			r.Post("/request", h.RequestPayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/approve", h.ApprovePayment)
			r.Post("/{id}/reconcile", h.ReconcilePayment)
			r.Post("/{id}/reverse", h.ReversePayment)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/audit", h.GetAuditTrail)
			r.Get("/{id}/dues", h.GetOpenDues)
			r.Get("/{id}/cap-check", h.CapCheck)
		})

		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Get("/{id}", h.GetCategory)
		})

		// Demo data loader (dev only)
		r.Post("/seed", h.SeedDemo)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
