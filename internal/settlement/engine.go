package settlement

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/repository"
	"github.com/sokoni/payouts/internal/transfer"
)

// OrderSource supplies orders already vetted by the eligibility pipeline.
type OrderSource interface {
	GetOrder(id string) (*domain.PayoutOrder, error)
}

// AccountSource resolves a payee's external provider account.
type AccountSource interface {
	GetAccount(payeeID string) (*domain.PayeeAccount, error)
}

// Options tags a settlement with where it came from.
type Options struct {
	BatchID string
	Source  domain.SettlementSource
}

// Engine drives one order's payout through a three-phase protocol:
//
//	Phase 1: reserve: settlement row + ledger debit in one transaction,
//	         durable before anything external happens.
//	Phase 2: execute: call the transfer provider. On error the reservation
//	         is rolled back with a compensating credit and the provider error
//	         propagates; the caller must not retry (that is the reconciler's
//	         job, driven by provider truth).
//	Phase 3: finalize: conditional transition to COMPLETED. The ledger is
//	         not touched: the reservation debit is the permanent record of
//	         the funds having left.
type Engine struct {
	orders      OrderSource
	accounts    AccountSource
	settlements *repository.SettlementRepo
	ledger      *repository.LedgerRepo
	provider    transfer.Provider
}

func NewEngine(
	orders OrderSource,
	accounts AccountSource,
	settlements *repository.SettlementRepo,
	ledger *repository.LedgerRepo,
	provider transfer.Provider,
) *Engine {
	return &Engine{
		orders:      orders,
		accounts:    accounts,
		settlements: settlements,
		ledger:      ledger,
		provider:    provider,
	}
}

// Settle executes the payout for one order. actorID identifies who asked
// (a worker instance or an operator) and only lands in ledger descriptions.
func (e *Engine) Settle(orderID, actorID string, opts Options) (*domain.Settlement, error) {
	if opts.Source == "" {
		opts.Source = domain.SourceManual
	}

	// Preconditions: each check is a distinct error and nothing below
	// mutates state until all of them pass.
	order, err := e.orders.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil || !order.Delivered {
		return nil, ErrOrderNotDeliverable
	}
	if !order.FundsReleased {
		return nil, ErrFundsNotReleased
	}

	account, err := e.accounts.GetAccount(order.PayeeID)
	if err != nil {
		return nil, fmt.Errorf("load account for %s: %w", order.PayeeID, err)
	}
	if account == nil || !account.Verified || !account.PayoutsEnabled {
		return nil, ErrPayeeAccountInvalid
	}

	existing, err := e.settlements.GetByOrderID(orderID)
	if err != nil {
		return nil, fmt.Errorf("check existing settlement: %w", err)
	}
	if existing != nil {
		switch existing.Status {
		case domain.SettlementCompleted:
			return existing, ErrDuplicateSettlement
		case domain.SettlementProcessing:
			return existing, ErrSettlementInFlight
		default:
			return existing, fmt.Errorf("%w: settlement %s is %s",
				ErrOrderPreviouslyFailed, existing.ID, existing.Status)
		}
	}

	balance, err := e.ledger.GetBalance(order.PayeeID, order.Currency)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if balance.Available < order.Amount {
		return nil, fmt.Errorf("%w: available %d, need %d",
			ErrInsufficientFunds, balance.Available, order.Amount)
	}

	// Phase 1: reservation. Settlement and debit commit together or not at
	// all; nothing external has happened yet.
	now := time.Now().UTC()
	s := &domain.Settlement{
		ID:                 "stl-" + uuid.NewString(),
		OrderID:            order.ID,
		PayeeID:            order.PayeeID,
		Amount:             order.Amount,
		Currency:           order.Currency,
		Status:             domain.SettlementProcessing,
		Source:             opts.Source,
		BatchID:            opts.BatchID,
		ReservationEntryID: "led-" + uuid.NewString(),
		ReservedAt:         now,
		StartedAt:          now,
	}
	reservation := &domain.LedgerEntry{
		ID:           s.ReservationEntryID,
		PayeeID:      order.PayeeID,
		Amount:       -order.Amount,
		Currency:     order.Currency,
		Status:       domain.EntryLocked,
		Type:         domain.EntryReservation,
		OrderID:      order.ID,
		SettlementID: s.ID,
		Description:  fmt.Sprintf("reservation for order %s by %s", order.ID, actorID),
		CreatedAt:    now,
	}

	if err := e.settlements.CreateWithReservation(s, reservation); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadySettling) {
			return nil, ErrSettlementInFlight
		}
		return nil, fmt.Errorf("reserve funds: %w", err)
	}

	// Phase 2: the external call, outside any transaction. An error here is
	// the dangerous moment: money may or may not have moved. Compensate
	// immediately and surface the provider error untouched; the reconciler
	// corrects us later if the transfer actually went through.
	result, err := e.provider.CreateTransfer(transfer.Request{
		OrderID:        order.ID,
		SettlementID:   s.ID,
		PayeeID:        order.PayeeID,
		AccountRef:     account.AccountRef,
		Amount:         order.Amount,
		Currency:       order.Currency,
		IdempotencyKey: "settle-" + s.ID,
	})
	if err != nil {
		e.rollback(s, err.Error())
		return nil, err
	}

	// Phase 3: finalize. Conditional on the settlement still being
	// PROCESSING so a reconciler verdict that raced us is never overwritten.
	completedAt := time.Now().UTC()
	applied, err := e.settlements.MarkCompleted(s.ID, result.TransferRef, completedAt)
	if err != nil {
		return nil, fmt.Errorf("finalize settlement %s: %w", s.ID, err)
	}
	if !applied {
		log.Printf("[settlement] %s changed state during transfer, not finalizing", s.ID)
		return e.settlements.GetByID(s.ID)
	}

	s.Status = domain.SettlementCompleted
	s.TransferRef = result.TransferRef
	s.CompletedAt = &completedAt
	return s, nil
}

// rollback marks the settlement FAILED and appends the compensating credit
// for the exact reserved amount, in one transaction. A failure of the
// rollback itself is logged and swallowed so the original provider error
// still reaches the caller; the unresolved hold is then the reconciler's and
// alerting's problem.
func (e *Engine) rollback(s *domain.Settlement, reason string) {
	credit := &domain.LedgerEntry{
		ID:             "led-" + uuid.NewString(),
		PayeeID:        s.PayeeID,
		Amount:         s.Amount,
		Currency:       s.Currency,
		Status:         domain.EntryAvailable,
		Type:           domain.EntryReleaseCredit,
		OrderID:        s.OrderID,
		SettlementID:   s.ID,
		IdempotencyKey: "rollback-" + s.ID,
		Description:    "release of reservation after provider failure: " + reason,
		CreatedAt:      time.Now().UTC(),
	}

	applied, err := e.settlements.MarkTerminalWithCredit(
		s.ID, domain.SettlementFailed, reason,
		[]domain.SettlementStatus{domain.SettlementProcessing},
		credit,
	)
	if err != nil {
		log.Printf("[settlement] WARNING: rollback of %s failed, reservation left open: %v", s.ID, err)
		return
	}
	if !applied {
		log.Printf("[settlement] rollback of %s skipped: settlement no longer PROCESSING", s.ID)
	}
}
