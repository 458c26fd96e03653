package domain

import "time"

type SettlementStatus string

const (
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementCompleted  SettlementStatus = "COMPLETED"
	SettlementFailed     SettlementStatus = "FAILED"
	SettlementReversed   SettlementStatus = "REVERSED"
)

// Terminal reports whether the status is one a settlement can never leave.
// A late "it actually succeeded" notification must not move a settlement out
// of FAILED or REVERSED back to COMPLETED.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementFailed || s == SettlementReversed
}

type SettlementSource string

const (
	SourceBatch  SettlementSource = "batch"
	SourceManual SettlementSource = "manual"
)

// Settlement is a single order's payout execution record, 1:1 with an order.
// It is only created after its ledger reservation is durably committed, and
// its Amount must equal the reservation debit in absolute value for its
// entire lifetime.
type Settlement struct {
	ID                 string           `json:"id"`
	OrderID            string           `json:"order_id"`
	PayeeID            string           `json:"payee_id"`
	Amount             int64            `json:"amount"` // minor currency units
	Currency           string           `json:"currency"`
	Status             SettlementStatus `json:"status"`
	Source             SettlementSource `json:"source"`
	BatchID            string           `json:"batch_id,omitempty"`
	TransferRef        string           `json:"transfer_ref,omitempty"`
	ReservationEntryID string           `json:"reservation_entry_id"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	ReservedAt         time.Time        `json:"reserved_at"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}
