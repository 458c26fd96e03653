package reconciler

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/repository"
)

// Service applies asynchronous provider notifications to settlement state.
// Events arrive at least once and in no particular order; every effect is
// keyed by the event id so a replay changes nothing.
type Service struct {
	settlements *repository.SettlementRepo
	ledger      *repository.LedgerRepo
}

func NewService(settlements *repository.SettlementRepo, ledger *repository.LedgerRepo) *Service {
	return &Service{settlements: settlements, ledger: ledger}
}

// HandleNotification applies one provider event exactly once. An error means
// the event should be redelivered; a nil return means it is fully absorbed
// (including the cases where there is nothing to do).
func (s *Service) HandleNotification(ev *domain.TransferEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event has no id")
	}

	// Idempotency: an existing ledger entry tagged with this event id means
	// the event was already fully applied (at-least-once delivery, manual
	// replays).
	seen, err := s.ledger.HasEntryForKey(ev.ID)
	if err != nil {
		return fmt.Errorf("check event %s: %w", ev.ID, err)
	}
	if seen {
		log.Printf("[reconciler] event %s already applied, ignoring", ev.ID)
		return nil
	}

	stl, err := s.resolve(ev)
	if err != nil {
		return err
	}
	if stl == nil {
		log.Printf("[reconciler] event %s references unknown settlement (ref=%s), ignoring",
			ev.ID, ev.TransferRef)
		return nil
	}

	switch {
	case ev.Type == domain.EventTransferReversed:
		return s.applyReversal(ev, stl)
	case ev.Type == domain.EventTransferUpdated && ev.Status == domain.TransferFailed:
		return s.applyFailure(ev, stl)
	case ev.Type == domain.EventTransferUpdated && ev.Status == domain.TransferPaid:
		return s.applySuccess(ev, stl)
	default:
		log.Printf("[reconciler] event %s has unhandled type/status %s/%s, ignoring",
			ev.ID, ev.Type, ev.Status)
		return nil
	}
}

// resolve finds the settlement an event refers to: by the metadata-carried
// settlement id first, then by the provider transfer reference.
func (s *Service) resolve(ev *domain.TransferEvent) (*domain.Settlement, error) {
	if ev.Metadata.SettlementID != "" {
		stl, err := s.settlements.GetByID(ev.Metadata.SettlementID)
		if err != nil {
			return nil, fmt.Errorf("resolve settlement %s: %w", ev.Metadata.SettlementID, err)
		}
		if stl != nil {
			return stl, nil
		}
	}
	if ev.TransferRef != "" {
		stl, err := s.settlements.GetByTransferRef(ev.TransferRef)
		if err != nil {
			return nil, fmt.Errorf("resolve transfer ref %s: %w", ev.TransferRef, err)
		}
		return stl, nil
	}
	return nil, nil
}

// applyFailure moves a PROCESSING or COMPLETED settlement to FAILED and
// releases its reservation. Terminal settlements are left alone: they were
// already compensated and a late contradiction never re-opens them.
func (s *Service) applyFailure(ev *domain.TransferEvent, stl *domain.Settlement) error {
	if stl.Status.Terminal() {
		log.Printf("[reconciler] event %s: settlement %s already %s, ignoring failure",
			ev.ID, stl.ID, stl.Status)
		return nil
	}

	reason := ev.FailureReason
	if reason == "" {
		reason = "transfer failed (provider notification)"
	}

	applied, err := s.settlements.MarkTerminalWithCredit(
		stl.ID, domain.SettlementFailed, reason,
		[]domain.SettlementStatus{domain.SettlementProcessing, domain.SettlementCompleted},
		s.compensatingCredit(ev, stl, domain.EntryReleaseCredit,
			"release after provider-reported failure"),
	)
	if err != nil {
		return fmt.Errorf("apply failure for %s: %w", stl.ID, err)
	}
	if applied {
		log.Printf("[reconciler] event %s: settlement %s failed, reservation released", ev.ID, stl.ID)
	}
	return nil
}

// applyReversal moves a COMPLETED settlement to REVERSED and credits the
// reserved amount back.
func (s *Service) applyReversal(ev *domain.TransferEvent, stl *domain.Settlement) error {
	if stl.Status != domain.SettlementCompleted {
		log.Printf("[reconciler] event %s: settlement %s is %s, ignoring reversal",
			ev.ID, stl.ID, stl.Status)
		return nil
	}

	reason := ev.FailureReason
	if reason == "" {
		reason = "transfer reversed (provider notification)"
	}

	applied, err := s.settlements.MarkTerminalWithCredit(
		stl.ID, domain.SettlementReversed, reason,
		[]domain.SettlementStatus{domain.SettlementCompleted},
		s.compensatingCredit(ev, stl, domain.EntryReversalCredit,
			"credit after provider-reported reversal"),
	)
	if err != nil {
		return fmt.Errorf("apply reversal for %s: %w", stl.ID, err)
	}
	if applied {
		log.Printf("[reconciler] event %s: settlement %s reversed", ev.ID, stl.ID)
	}
	return nil
}

// applySuccess completes a settlement still stuck in PROCESSING, the case
// where the money moved but the process died before the optimistic finalize
// persisted. Terminal settlements are sticky and everything else is a no-op.
func (s *Service) applySuccess(ev *domain.TransferEvent, stl *domain.Settlement) error {
	if stl.Status != domain.SettlementProcessing {
		log.Printf("[reconciler] event %s: settlement %s is %s, ignoring paid",
			ev.ID, stl.ID, stl.Status)
		return nil
	}

	applied, err := s.settlements.MarkCompleted(stl.ID, ev.TransferRef, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply paid for %s: %w", stl.ID, err)
	}
	if applied {
		log.Printf("[reconciler] event %s: settlement %s completed by notification (ref=%s)",
			ev.ID, stl.ID, ev.TransferRef)
	}
	return nil
}

func (s *Service) compensatingCredit(
	ev *domain.TransferEvent,
	stl *domain.Settlement,
	typ domain.EntryType,
	desc string,
) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             "led-" + uuid.NewString(),
		PayeeID:        stl.PayeeID,
		Amount:         stl.Amount,
		Currency:       stl.Currency,
		Status:         domain.EntryAvailable,
		Type:           typ,
		OrderID:        stl.OrderID,
		SettlementID:   stl.ID,
		IdempotencyKey: ev.ID,
		Description:    fmt.Sprintf("%s (event %s)", desc, ev.ID),
		CreatedAt:      time.Now().UTC(),
	}
}
