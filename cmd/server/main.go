package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/sokoni/payouts/internal/api"
	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/reconciler"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/settlement"
	"github.com/sokoni/payouts/internal/transfer"
	"github.com/sokoni/payouts/internal/transfer/paypal"
	"github.com/sokoni/payouts/internal/worker"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "payouts.db"
	}

	log.Printf("Initializing database at %s", dbPath)
	db, err := repository.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	batchRepo := repository.NewBatchRepo(db)
	settlementRepo := repository.NewSettlementRepo(db)
	ledgerRepo := repository.NewLedgerRepo(db)
	orderRepo := repository.NewOrderRepo(db)

	// Create the transfer provider: PayPal when credentials are configured,
	// the local sandbox otherwise.
	provider := buildProvider()

	// Create services.
	engine := settlement.NewEngine(orderRepo, orderRepo, settlementRepo, ledgerRepo, provider)
	reconcilerSvc := reconciler.NewService(settlementRepo, ledgerRepo)
	payoutWorker := worker.New(batchRepo, engine)
	payoutWorker.Lease = leaseTimeout()

	// Seed orders and accounts if the DB is empty.
	count, err := orderRepo.CountOrders()
	if err != nil {
		log.Fatalf("Failed to count orders: %v", err)
	}
	if count == 0 {
		log.Println("Database is empty, seeding orders from testdata...")
		if err := seedOrders(orderRepo, ledgerRepo); err != nil {
			log.Printf("WARNING: Failed to seed orders: %v", err)
		}
	} else {
		log.Printf("Database already has %d orders, skipping seed", count)
	}

	// Start the cron-style worker loop.
	runner := worker.NewRunner(payoutWorker, workerInterval())
	runner.Start()
	defer runner.Stop()

	// Create router.
	router := api.NewRouter(batchRepo, settlementRepo, ledgerRepo, reconcilerSvc, payoutWorker, engine)

	log.Printf("Sokoni Seller Payout Service")
	log.Printf("Transfer provider: %s", provider.Name())
	log.Printf("Listening on http://localhost:%s", port)
	log.Printf("API base: http://localhost:%s/api/v1", port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/webhooks/transfers")
	log.Printf("  POST   /api/v1/batches")
	log.Printf("  GET    /api/v1/batches")
	log.Printf("  GET    /api/v1/batches/{id}")
	log.Printf("  POST   /api/v1/batches/run-cycle")
	log.Printf("  POST   /api/v1/settlements")
	log.Printf("  GET    /api/v1/settlements")
	log.Printf("  GET    /api/v1/settlements/{id}")
	log.Printf("  GET    /api/v1/balance")
	log.Printf("  GET    /api/v1/ledger")
	log.Printf("  POST   /api/v1/ledger/credits")
	log.Printf("  GET    /api/v1/dashboard")

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal, then drain the HTTP server; the deferred
	// runner.Stop finishes any in-flight worker cycle.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func buildProvider() transfer.Provider {
	clientID := os.Getenv("PAYPAL_CLIENT_ID")
	secret := os.Getenv("PAYPAL_CLIENT_SECRET")
	if clientID == "" || secret == "" {
		log.Println("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET not set, using sandbox provider")
		return transfer.NewSandbox()
	}

	live := os.Getenv("PAYPAL_LIVE") == "true"
	p, err := paypal.New(clientID, secret, live)
	if err != nil {
		log.Fatalf("Failed to init PayPal provider: %v", err)
	}
	return p
}

// workerInterval returns how often the worker loop runs, from
// WORKER_INTERVAL_SECONDS (default 60).
func workerInterval() time.Duration {
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
	}
	return 60 * time.Second
}

// leaseTimeout returns the batch lease from BATCH_LEASE_MINUTES (default 30).
func leaseTimeout() time.Duration {
	if v := os.Getenv("BATCH_LEASE_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			return time.Duration(m) * time.Minute
		}
	}
	return worker.DefaultLease
}

type seedData struct {
	Orders   []domain.PayoutOrder  `json:"orders"`
	Accounts []domain.PayeeAccount `json:"accounts"`
	Credits  []domain.LedgerEntry  `json:"credits"`
}

func seedOrders(repo *repository.OrderRepo, ledger *repository.LedgerRepo) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		"testdata/seed.json",
		filepath.Join(".", "testdata", "seed.json"),
	}

	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "seed.json"),
			filepath.Join(dir, "..", "..", "testdata", "seed.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Printf("Loaded seed data from %s", path)
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find seed.json in any candidate path: %w", loadErr)
	}

	var seed seedData
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("unmarshal seed data: %w", err)
	}

	inserted, err := repo.BulkInsertOrders(seed.Orders)
	if err != nil {
		return fmt.Errorf("bulk insert orders: %w", err)
	}
	for i := range seed.Accounts {
		if err := repo.InsertAccount(&seed.Accounts[i]); err != nil {
			return fmt.Errorf("insert account %s: %w", seed.Accounts[i].PayeeID, err)
		}
	}

	for i := range seed.Credits {
		if _, err := ledger.Append(&seed.Credits[i]); err != nil {
			return fmt.Errorf("append credit %s: %w", seed.Credits[i].ID, err)
		}
	}

	log.Printf("Seeded %d orders, %d accounts, %d ledger credits",
		inserted, len(seed.Accounts), len(seed.Credits))
	return nil
}
