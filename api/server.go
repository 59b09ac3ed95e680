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

ROUTE GROUPS:
  /api/schedules/*      Schedule preview
  /api/subjects/*       Subjects, pricing, installments, overview, receipts
  /api/receipts/*       Receipt edit and delete
  /api/transactions/*   Ledger transactions
  /api/ledger/*         Ledger sync and scheduler history
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/feeengine/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter. Zero value serves the default
// Prometheus registry and allows the local frontend origins.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/schedules/preview", h.PreviewSchedule)

		// Subject routes
		r.Route("/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Post("/", h.CreateSubject)
			r.Post("/refresh", h.BulkRefresh)
			r.Get("/{id}", h.GetSubject)
			r.Put("/{id}/pricing", h.UpdatePricing)
			r.Post("/{id}/refresh", h.RefreshSubject)
			r.Get("/{id}/installments", h.ListInstallments)
			r.Get("/{id}/overview", h.GetOverview)
			r.Get("/{id}/receipts", h.ListReceipts)
			r.Post("/{id}/receipts", h.CreateReceipt)
		})

		// Receipt routes
		r.Route("/receipts", func(r chi.Router) {
			r.Put("/{id}", h.UpdateReceipt)
			r.Delete("/{id}", h.DeleteReceipt)
		})

		// Ledger routes
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Route("/ledger", func(r chi.Router) {
			r.Post("/sync", h.SyncLedger)
			r.Get("/runs", h.ListSyncRuns)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}
