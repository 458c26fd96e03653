package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/payouts/internal/api"
	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/reconciler"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/settlement"
	"github.com/sokoni/payouts/internal/transfer"
	"github.com/sokoni/payouts/internal/worker"
)

type testServer struct {
	handler http.Handler
	orders  *repository.OrderRepo
	ledger  *repository.LedgerRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	batchRepo := repository.NewBatchRepo(db)
	settlementRepo := repository.NewSettlementRepo(db)
	ledgerRepo := repository.NewLedgerRepo(db)
	orderRepo := repository.NewOrderRepo(db)

	engine := settlement.NewEngine(orderRepo, orderRepo, settlementRepo, ledgerRepo, transfer.NewSandbox())
	reconcilerSvc := reconciler.NewService(settlementRepo, ledgerRepo)
	payoutWorker := worker.New(batchRepo, engine)

	return &testServer{
		handler: api.NewRouter(batchRepo, settlementRepo, ledgerRepo, reconcilerSvc, payoutWorker, engine),
		orders:  orderRepo,
		ledger:  ledgerRepo,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestAPI_CreditAndBalance(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/ledger/credits", map[string]any{
		"payee_id":  "P001",
		"amount":    12500,
		"currency":  "USD",
		"reference": "order-proceeds-1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Resubmitting the same reference is a no-op.
	rec = s.do(t, http.MethodPost, "/api/v1/ledger/credits", map[string]any{
		"payee_id":  "P001",
		"amount":    12500,
		"currency":  "USD",
		"reference": "order-proceeds-1",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/balance?payee_id=P001&currency=USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(12500), got["available"])
	assert.Equal(t, "125.00", got["available_display"])
}

func TestAPI_CreateBatch_DuplicateWindowConflicts(t *testing.T) {
	s := newTestServer(t)

	payload := map[string]any{
		"payee_id":    "P001",
		"currency":    "USD",
		"window_date": "2026-08-30",
		"order_ids":   []string{"ORD-1", "ORD-2"},
	}

	rec := s.do(t, http.MethodPost, "/api/v1/batches", payload)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/batches", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ManualSettlementAndWebhook(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()

	require.NoError(t, s.orders.InsertAccount(&domain.PayeeAccount{
		PayeeID: "P001", AccountRef: "p1@example.com",
		Verified: true, PayoutsEnabled: true, CreatedAt: now,
	}))
	require.NoError(t, s.orders.InsertOrder(&domain.PayoutOrder{
		ID: "ORD-1", PayeeID: "P001", Amount: 2000, Currency: "USD",
		Delivered: true, FundsReleased: true, CreatedAt: now,
	}))
	_, err := s.ledger.Append(&domain.LedgerEntry{
		ID: "led-fund", PayeeID: "P001", Amount: 5000, Currency: "USD",
		Status: domain.EntryAvailable, Type: domain.EntryProceedsCredit,
		CreatedAt: now,
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/settlements", map[string]any{
		"order_id": "ORD-1",
		"actor_id": "ops",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var stl domain.Settlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stl))
	assert.Equal(t, domain.SettlementCompleted, stl.Status)

	// A second manual attempt is a conflict, not a second payout.
	rec = s.do(t, http.MethodPost, "/api/v1/settlements", map[string]any{
		"order_id": "ORD-1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A provider failure notification flips it to FAILED via the webhook.
	rec = s.do(t, http.MethodPost, "/api/v1/webhooks/transfers", domain.TransferEvent{
		ID:            "evt-1",
		Type:          domain.EventTransferUpdated,
		Status:        domain.TransferFailed,
		TransferRef:   stl.TransferRef,
		FailureReason: "recipient cannot receive payouts",
		Metadata:      domain.EventMetadata{SettlementID: stl.ID},
		OccurredAt:    now,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/settlements/"+stl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Settlement    domain.Settlement    `json:"settlement"`
		LedgerEntries []domain.LedgerEntry `json:"ledger_entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, domain.SettlementFailed, detail.Settlement.Status)
	assert.Len(t, detail.LedgerEntries, 2)
}

func TestAPI_WebhookUnknownSettlementAccepted(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/webhooks/transfers", domain.TransferEvent{
		ID:          "evt-ghost",
		Type:        domain.EventTransferUpdated,
		Status:      domain.TransferPaid,
		TransferRef: "nope",
		OccurredAt:  time.Now().UTC(),
	})
	// Unknown settlements are absorbed, not retried forever.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RunCycleIdle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/batches/run-cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result worker.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Idle)
}
