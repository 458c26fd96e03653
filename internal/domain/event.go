package domain

import "time"

type EventType string

const (
	EventTransferUpdated  EventType = "transfer.updated"
	EventTransferReversed EventType = "transfer.reversed"
)

type TransferStatus string

const (
	TransferPaid   TransferStatus = "paid"
	TransferFailed TransferStatus = "failed"
)

// TransferEvent is an asynchronous notification from the external transfer
// provider. Delivery is at-least-once and unordered; ID is unique per event
// and is the idempotency key for applying it.
type TransferEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Status        TransferStatus `json:"status,omitempty"` // for transfer.updated
	TransferRef   string         `json:"transfer_ref"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Metadata      EventMetadata  `json:"metadata"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// EventMetadata echoes the idempotency metadata sent with the original
// transfer request.
type EventMetadata struct {
	SettlementID string `json:"settlement_id"`
	OrderID      string `json:"order_id,omitempty"`
}
