package domain

import "time"

// PayoutOrder is the read-only view of an order supplied by the eligibility
// source. An order is payable once it has been delivered and its funds have
// been released by the marketplace hold policy.
type PayoutOrder struct {
	ID            string    `json:"id"`
	PayeeID       string    `json:"payee_id"`
	Amount        int64     `json:"amount"` // minor currency units
	Currency      string    `json:"currency"`
	Delivered     bool      `json:"delivered"`
	FundsReleased bool      `json:"funds_released"`
	CreatedAt     time.Time `json:"created_at"`
}

// PayeeAccount is the external transfer provider account for a payee.
// Transfers may only be sent to accounts that are verified and enabled for
// payouts.
type PayeeAccount struct {
	PayeeID        string    `json:"payee_id"`
	AccountRef     string    `json:"account_ref"` // provider-side account identifier
	Verified       bool      `json:"verified"`
	PayoutsEnabled bool      `json:"payouts_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}
