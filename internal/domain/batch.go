package domain

import "time"

type BatchStatus string

const (
	BatchScheduled  BatchStatus = "SCHEDULED"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchConsumed   BatchStatus = "CONSUMED"
	BatchSkipped    BatchStatus = "SKIPPED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

// PayoutBatch is a locked set of orders payable together for one
// (payee, currency, window date) window. The order list is immutable once
// the batch is created; OrderCount and TotalAmount are informational and
// never authoritative for money movement. UpdatedAt doubles as the lease
// heartbeat while the batch is PROCESSING.
type PayoutBatch struct {
	ID          string      `json:"id"`
	PayeeID     string      `json:"payee_id"`
	Currency    string      `json:"currency"`
	WindowDate  string      `json:"window_date"` // calendar day, "2006-01-02"
	Status      BatchStatus `json:"status"`
	OrderIDs    []string    `json:"order_ids"`
	OrderCount  int         `json:"order_count"`
	TotalAmount int64       `json:"total_amount"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
