package settlement

import "errors"

// Validation errors: reported synchronously, no state mutated.
var (
	ErrOrderNotDeliverable = errors.New("order does not exist or is not delivered")
	ErrFundsNotReleased    = errors.New("order funds have not been released for payout")
	ErrPayeeAccountInvalid = errors.New("payee account is missing or not fully verified")
	ErrInsufficientFunds   = errors.New("available balance below settlement amount")
)

// Conflict errors: the desired end state already holds or is being reached
// by someone else. Callers driving idempotent re-runs treat these as benign.
var (
	ErrDuplicateSettlement = errors.New("order already has a completed settlement")
	ErrSettlementInFlight  = errors.New("order settlement is already in progress")
)

// ErrOrderPreviouslyFailed marks an order whose one-and-only settlement ended
// FAILED or REVERSED. It is not success-equivalent: the order needs manual
// follow-up, not an automatic retry.
var ErrOrderPreviouslyFailed = errors.New("order settlement previously ended in a terminal failure")

// IsConflict reports whether err is one of the benign settle-twice signals.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateSettlement) || errors.Is(err, ErrSettlementInFlight)
}
