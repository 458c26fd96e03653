package domain

import "time"

type EntryType string

const (
	EntryReservation    EntryType = "reservation"     // debit holding funds for a pending settlement
	EntryReleaseCredit  EntryType = "release_credit"  // compensating credit for a failed settlement
	EntryReversalCredit EntryType = "reversal_credit" // compensating credit for a reversed settlement
	EntryProceedsCredit EntryType = "proceeds_credit" // seller earnings funding the balance
	EntryAdjustment     EntryType = "adjustment"
)

type EntryStatus string

const (
	EntryAvailable EntryStatus = "available"
	EntryLocked    EntryStatus = "locked"
)

// LedgerEntry is append-only: entries are never mutated or deleted.
// Negative amounts are debits/holds, positive amounts are credits.
// IdempotencyKey carries the external event id when an entry is driven by
// reconciliation, so the same notification can be replayed safely.
type LedgerEntry struct {
	ID             string      `json:"id"`
	PayeeID        string      `json:"payee_id"`
	Amount         int64       `json:"amount"` // signed, minor currency units
	Currency       string      `json:"currency"`
	Status         EntryStatus `json:"status"`
	Type           EntryType   `json:"type"`
	OrderID        string      `json:"order_id,omitempty"`
	SettlementID   string      `json:"settlement_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Description    string      `json:"description,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Balance is the computed position for one (payee, currency). Available is
// the sum of all entries; Locked is the portion of that reduction still held
// by in-flight reservations.
type Balance struct {
	PayeeID   string `json:"payee_id"`
	Currency  string `json:"currency"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}
