package transfer

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Sandbox is a local stand-in provider for development: every transfer
// succeeds immediately with a synthetic reference. Never use it with real
// money.
type Sandbox struct {
	seq atomic.Int64
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) CreateTransfer(req Request) (*Result, error) {
	n := s.seq.Add(1)
	ref := fmt.Sprintf("sbx-%s-%d", req.SettlementID, n)
	log.Printf("[transfer] sandbox transfer %s: %d %s to %s (order %s)",
		ref, req.Amount, req.Currency, req.AccountRef, req.OrderID)
	return &Result{TransferRef: ref, Status: "pending"}, nil
}
