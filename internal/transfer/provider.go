package transfer

// Request describes one transfer to an external payee account. The metadata
// fields travel with the transfer so asynchronous notifications can be tied
// back to the settlement that caused it.
type Request struct {
	OrderID        string
	SettlementID   string
	PayeeID        string
	AccountRef     string
	Amount         int64 // minor currency units
	Currency       string
	IdempotencyKey string
}

// Result is the provider's synchronous answer. A returned error means the
// call itself did not complete: money may or may not have moved; resolving
// that ambiguity is the reconciler's job.
type Result struct {
	TransferRef string
	Status      string
}

// Provider is the external payment rail. Implementations must be safe for
// concurrent use.
type Provider interface {
	CreateTransfer(req Request) (*Result, error)
	Name() string
}
