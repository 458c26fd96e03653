// Command generate writes testdata/seed.json: a set of payees with verified
// provider accounts, delivered orders eligible for payout, and the proceeds
// credits funding each payee's balance.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/sokoni/payouts/internal/domain"
)

type seedData struct {
	Orders   []domain.PayoutOrder  `json:"orders"`
	Accounts []domain.PayeeAccount `json:"accounts"`
	Credits  []domain.LedgerEntry  `json:"credits"`
}

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	startDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var seed seedData

	for p := 1; p <= 8; p++ {
		payeeID := fmt.Sprintf("P%03d", p)

		seed.Accounts = append(seed.Accounts, domain.PayeeAccount{
			PayeeID:        payeeID,
			AccountRef:     fmt.Sprintf("seller%03d@example.com", p),
			Verified:       true,
			PayoutsEnabled: true,
			CreatedAt:      startDate,
		})

		var payeeTotal int64
		orderCount := 4 + rng.Intn(6)
		for i := 1; i <= orderCount; i++ {
			// Order amount between 5.00 and 250.00 USD, in cents.
			amount := int64(500 + rng.Intn(24500))
			createdAt := startDate.AddDate(0, 0, rng.Intn(20)).Add(
				time.Duration(rng.Intn(24)) * time.Hour,
			)

			seed.Orders = append(seed.Orders, domain.PayoutOrder{
				ID:            fmt.Sprintf("ORD-%s-%03d", payeeID, i),
				PayeeID:       payeeID,
				Amount:        amount,
				Currency:      "USD",
				Delivered:     true,
				FundsReleased: rng.Float64() < 0.9,
				CreatedAt:     createdAt,
			})
			payeeTotal += amount
		}

		// Fund the balance generously enough to cover every order.
		seed.Credits = append(seed.Credits, domain.LedgerEntry{
			ID:             fmt.Sprintf("led-seed-%s", payeeID),
			PayeeID:        payeeID,
			Amount:         payeeTotal + int64(rng.Intn(5000)),
			Currency:       "USD",
			Status:         domain.EntryAvailable,
			Type:           domain.EntryProceedsCredit,
			IdempotencyKey: fmt.Sprintf("seed-proceeds-%s", payeeID),
			Description:    "seed proceeds",
			CreatedAt:      startDate,
		})
	}

	out := filepath.Join(baseDir, "seed.json")
	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		log.Fatalf("marshal seed: %v", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", out, err)
	}

	log.Printf("Wrote %s: %d orders, %d accounts, %d credits",
		out, len(seed.Orders), len(seed.Accounts), len(seed.Credits))
}

func findTestdataDir() string {
	for _, dir := range []string{"testdata", ".", filepath.Join("..", "..", "testdata")} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if filepath.Base(dir) == "testdata" {
				return dir
			}
		}
	}
	return "."
}
