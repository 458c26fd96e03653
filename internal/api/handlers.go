package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/reconciler"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/settlement"
	"github.com/sokoni/payouts/internal/worker"
)

// Settler is the slice of the settlement engine the API needs for manual
// payouts.
type Settler interface {
	Settle(orderID, actorID string, opts settlement.Options) (*domain.Settlement, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	batchRepo      *repository.BatchRepo
	settlementRepo *repository.SettlementRepo
	ledgerRepo     *repository.LedgerRepo
	reconcilerSvc  *reconciler.Service
	worker         *worker.Worker
	settler        Settler
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// displayAmount renders minor currency units as a major-unit decimal string.
func displayAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// --- HandleTransferWebhook ---

// HandleTransferWebhook accepts a provider notification and applies it via
// the reconciler. Authenticity verification belongs to the transport layer
// in front of this endpoint.
func (h *Handlers) HandleTransferWebhook(w http.ResponseWriter, r *http.Request) {
	var ev domain.TransferEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload: "+err.Error())
		return
	}
	if ev.ID == "" {
		writeError(w, http.StatusBadRequest, "event id is required")
		return
	}

	if err := h.reconcilerSvc.HandleNotification(&ev); err != nil {
		// Signal the provider to redeliver.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// --- CreateBatch ---

type createBatchRequest struct {
	PayeeID    string   `json:"payee_id"`
	Currency   string   `json:"currency"`
	WindowDate string   `json:"window_date"`
	OrderIDs    []string `json:"order_ids"`
	TotalAmount int64    `json:"total_amount"`
}

func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.PayeeID == "" || req.Currency == "" || len(req.OrderIDs) == 0 {
		writeError(w, http.StatusBadRequest, "payee_id, currency and order_ids are required")
		return
	}
	if _, err := time.Parse("2006-01-02", req.WindowDate); err != nil {
		writeError(w, http.StatusBadRequest, "window_date must be YYYY-MM-DD")
		return
	}

	now := time.Now().UTC()
	batch := &domain.PayoutBatch{
		ID:          "bat-" + uuid.NewString(),
		PayeeID:     req.PayeeID,
		Currency:    req.Currency,
		WindowDate:  req.WindowDate,
		Status:      domain.BatchScheduled,
		OrderIDs:    req.OrderIDs,
		OrderCount:  len(req.OrderIDs),
		TotalAmount: req.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.batchRepo.Create(batch); err != nil {
		if errors.Is(err, repository.ErrDuplicateWindow) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, batch)
}

// --- ListBatches / GetBatch ---

func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.BatchFilter{
		PayeeID: q.Get("payee_id"),
		Status:  q.Get("status"),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	batches, total, err := h.batchRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batches": batches,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.batchRepo.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}

	settlements, _, err := h.settlementRepo.List(repository.SettlementFilter{BatchID: id, Limit: 1000})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch":       batch,
		"settlements": settlements,
	})
}

// --- RunCycle ---

func (h *Handlers) RunCycle(w http.ResponseWriter, r *http.Request) {
	result := h.worker.RunCycle()
	writeJSON(w, http.StatusOK, result)
}

// --- CreateSettlement ---

type createSettlementRequest struct {
	OrderID string `json:"order_id"`
	ActorID string `json:"actor_id"`
}

func (h *Handlers) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req createSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}
	if req.ActorID == "" {
		req.ActorID = "api"
	}

	stl, err := h.settler.Settle(req.OrderID, req.ActorID, settlement.Options{
		Source: domain.SourceManual,
	})
	if err != nil {
		switch {
		case settlement.IsConflict(err):
			// The work is already done or in progress.
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      err.Error(),
				"settlement": stl,
			})
		case errors.Is(err, settlement.ErrOrderPreviouslyFailed):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      err.Error(),
				"settlement": stl,
			})
		case errors.Is(err, settlement.ErrOrderNotDeliverable),
			errors.Is(err, settlement.ErrFundsNotReleased),
			errors.Is(err, settlement.ErrPayeeAccountInvalid),
			errors.Is(err, settlement.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, stl)
}

// --- ListSettlements / GetSettlement ---

func (h *Handlers) ListSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.SettlementFilter{
		PayeeID: q.Get("payee_id"),
		Status:  q.Get("status"),
		BatchID: q.Get("batch_id"),
		From:    parseTime(q.Get("from")),
		To:      parseTime(q.Get("to")),
		Page:    parseIntDefault(q.Get("page"), 1),
		Limit:   parseIntDefault(q.Get("limit"), 50),
	}

	settlements, total, err := h.settlementRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": settlements,
		"total":       total,
		"page":        filter.Page,
		"limit":       filter.Limit,
	})
}

func (h *Handlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stl, err := h.settlementRepo.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stl == nil {
		writeError(w, http.StatusNotFound, "settlement not found")
		return
	}

	entries, err := h.ledgerRepo.GetBySettlementID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlement":     stl,
		"ledger_entries": entries,
	})
}

// --- GetBalance ---

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payeeID := q.Get("payee_id")
	currency := q.Get("currency")
	if payeeID == "" || currency == "" {
		writeError(w, http.StatusBadRequest, "payee_id and currency are required")
		return
	}

	balance, err := h.ledgerRepo.GetBalance(payeeID, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payee_id":          balance.PayeeID,
		"currency":          balance.Currency,
		"available":         balance.Available,
		"locked":            balance.Locked,
		"available_display": displayAmount(balance.Available),
		"locked_display":    displayAmount(balance.Locked),
	})
}

// --- ListLedgerEntries ---

func (h *Handlers) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.LedgerFilter{
		PayeeID:  q.Get("payee_id"),
		Currency: q.Get("currency"),
		Type:     q.Get("type"),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	entries, total, err := h.ledgerRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

// --- CreateProceedsCredit ---

type createCreditRequest struct {
	PayeeID     string `json:"payee_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// CreateProceedsCredit appends a seller-earnings credit, the entry type that
// funds the available balance. Reference, when given, acts as the idempotency
// key so resubmitting the same credit is a no-op.
func (h *Handlers) CreateProceedsCredit(w http.ResponseWriter, r *http.Request) {
	var req createCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if req.PayeeID == "" || req.Currency == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "payee_id, currency and a positive amount are required")
		return
	}

	entry := &domain.LedgerEntry{
		ID:             "led-" + uuid.NewString(),
		PayeeID:        req.PayeeID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         domain.EntryAvailable,
		Type:           domain.EntryProceedsCredit,
		OrderID:        req.OrderID,
		IdempotencyKey: req.Reference,
		Description:    req.Description,
		CreatedAt:      time.Now().UTC(),
	}

	id, err := h.ledgerRepo.Append(entry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"entry_id": id})
}

// --- GetDashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	settlementCounts, err := h.settlementRepo.StatusCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	batchCounts, err := h.batchRepo.StatusCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": settlementCounts,
		"batches":     batchCounts,
	})
}
