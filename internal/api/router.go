package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sokoni/payouts/internal/reconciler"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/worker"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	batchRepo *repository.BatchRepo,
	settlementRepo *repository.SettlementRepo,
	ledgerRepo *repository.LedgerRepo,
	reconcilerSvc *reconciler.Service,
	payoutWorker *worker.Worker,
	settler Settler,
) http.Handler {
	h := &Handlers{
		batchRepo:      batchRepo,
		settlementRepo: settlementRepo,
		ledgerRepo:     ledgerRepo,
		reconcilerSvc:  reconcilerSvc,
		worker:         payoutWorker,
		settler:        settler,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider notifications.
		r.Post("/webhooks/transfers", h.HandleTransferWebhook)

		// Batches.
		r.Post("/batches", h.CreateBatch)
		r.Get("/batches", h.ListBatches)
		r.Get("/batches/{id}", h.GetBatch)
		r.Post("/batches/run-cycle", h.RunCycle)

		// Settlements.
		r.Post("/settlements", h.CreateSettlement)
		r.Get("/settlements", h.ListSettlements)
		r.Get("/settlements/{id}", h.GetSettlement)

		// Ledger.
		r.Get("/balance", h.GetBalance)
		r.Get("/ledger", h.ListLedgerEntries)
		r.Post("/ledger/credits", h.CreateProceedsCredit)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
