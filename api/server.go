/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: zerolog line per request, logger in context
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/accounts/*          Accounts, balances, book balance
  /api/transactions/*      Entry history and deletion
  /api/incomes|expenditures|transfers  Entry commands
  /api/disposals/*         Asset disposals
  /api/liabilities/*       Liabilities and payments
  /api/categories/*        Category integrity
  /api/budgets/*           Budget roll-ups
  /api/reconciliations/*   Reconciliation workflow
  /api/admin/*             Balance audit
  /api/scenarios/*         Demo scenarios
  /healthz                 Liveness

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
	"github.com/rs/zerolog"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Post("/{id}/recalculate", h.RecalculateBalance)
			r.Get("/{id}/book-balance", h.GetBookBalance)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})
		r.Post("/incomes", h.CreateIncome)
		r.Put("/incomes/{id}", h.UpdateIncome)
		r.Post("/expenditures", h.CreateExpenditure)
		r.Put("/expenditures/{id}", h.UpdateExpenditure)
		r.Post("/transfers", h.CreateTransfer)
		r.Put("/transfers/{id}", h.UpdateTransfer)

		// Disposal routes
		r.Route("/disposals", func(r chi.Router) {
			r.Get("/", h.ListDisposals)
			r.Post("/", h.CreateDisposal)
			r.Delete("/{id}", h.DeleteDisposal)
		})

		// Liability routes
		r.Route("/liabilities", func(r chi.Router) {
			r.Get("/", h.ListLiabilities)
			r.Post("/", h.CreateLiability)
			r.Get("/{id}", h.GetLiability)
			r.Put("/{id}", h.UpdateLiability)
			r.Delete("/{id}", h.DeleteLiability)
			r.Post("/{id}/payments", h.RecordPayment)
		})
		r.Delete("/liability-payments/{id}", h.DeletePayment)

		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Put("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		// Budget routes
		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", h.ListBudgets)
			r.Post("/", h.CreateBudget)
			r.Put("/{id}", h.UpdateBudget)
			r.Delete("/{id}", h.DeleteBudget)
			r.Post("/{id}/recompute", h.RecomputeBudget)
		})

		// Reconciliation routes
		r.Route("/reconciliations", func(r chi.Router) {
			r.Get("/", h.ListReconciliations)
			r.Post("/", h.CreateReconciliation)
			r.Get("/{id}", h.GetReconciliation)
			r.Put("/{id}", h.UpdateReconciliation)
			r.Delete("/{id}", h.DeleteReconciliation)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalculate", h.RecalculateAll)
			r.Get("/audits", h.ListAudits)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
