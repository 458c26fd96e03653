package repository_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/payouts/internal/domain"
	"github.com/sokoni/payouts/internal/repository"
)

func newTestLedger(t *testing.T) (*repository.LedgerRepo, *repository.SettlementRepo) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewLedgerRepo(db), repository.NewSettlementRepo(db)
}

func credit(id, payeeID string, amount int64, key string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             id,
		PayeeID:        payeeID,
		Amount:         amount,
		Currency:       "USD",
		Status:         domain.EntryAvailable,
		Type:           domain.EntryProceedsCredit,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLedgerRepo_Append_IdempotencyKeyDedupes(t *testing.T) {
	ledger, _ := newTestLedger(t)

	id1, err := ledger.Append(credit("led-1", "P001", 1000, "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "led-1", id1)

	// Same key, different id: nothing new is written and the original id
	// comes back.
	id2, err := ledger.Append(credit("led-2", "P001", 1000, "evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "led-1", id2)

	n, err := ledger.CountByKey("evt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Available)
}

func TestLedgerRepo_Append_NoKeyNeverDedupes(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Append(credit("led-1", "P001", 500, ""))
	require.NoError(t, err)
	_, err = ledger.Append(credit("led-2", "P001", 500, ""))
	require.NoError(t, err)

	b, err := ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Available)
}

func TestLedgerRepo_Balance_OpenReservationLocksFunds(t *testing.T) {
	ledger, settlements := newTestLedger(t)

	_, err := ledger.Append(credit("led-fund", "P001", 5000, ""))
	require.NoError(t, err)

	now := time.Now().UTC()
	s := &domain.Settlement{
		ID:                 "stl-1",
		OrderID:            "ORD-1",
		PayeeID:            "P001",
		Amount:             2000,
		Currency:           "USD",
		Status:             domain.SettlementProcessing,
		Source:             domain.SourceBatch,
		ReservationEntryID: "led-res",
		ReservedAt:         now,
		StartedAt:          now,
	}
	res := &domain.LedgerEntry{
		ID:           "led-res",
		PayeeID:      "P001",
		Amount:       -2000,
		Currency:     "USD",
		Status:       domain.EntryLocked,
		Type:         domain.EntryReservation,
		OrderID:      "ORD-1",
		SettlementID: "stl-1",
		CreatedAt:    now,
	}
	require.NoError(t, settlements.CreateWithReservation(s, res))

	b, err := ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), b.Available)
	assert.Equal(t, int64(2000), b.Locked)

	// Completing the settlement keeps the funds gone but nothing locked.
	applied, err := settlements.MarkCompleted("stl-1", "ref-1", now)
	require.NoError(t, err)
	require.True(t, applied)

	b, err = ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), b.Available)
	assert.Equal(t, int64(0), b.Locked)
}

func TestSettlementRepo_CreateWithReservation_OnePerOrder(t *testing.T) {
	ledger, settlements := newTestLedger(t)

	now := time.Now().UTC()
	mk := func(stlID, entryID string) (*domain.Settlement, *domain.LedgerEntry) {
		return &domain.Settlement{
				ID: stlID, OrderID: "ORD-1", PayeeID: "P001", Amount: 1000,
				Currency: "USD", Status: domain.SettlementProcessing,
				Source: domain.SourceBatch, ReservationEntryID: entryID,
				ReservedAt: now, StartedAt: now,
			}, &domain.LedgerEntry{
				ID: entryID, PayeeID: "P001", Amount: -1000, Currency: "USD",
				Status: domain.EntryLocked, Type: domain.EntryReservation,
				OrderID: "ORD-1", SettlementID: stlID, CreatedAt: now,
			}
	}

	s1, r1 := mk("stl-1", "led-1")
	require.NoError(t, settlements.CreateWithReservation(s1, r1))

	// Second settlement for the same order: rejected, and crucially its
	// reservation debit is rolled back with it.
	s2, r2 := mk("stl-2", "led-2")
	err := settlements.CreateWithReservation(s2, r2)
	assert.ErrorIs(t, err, repository.ErrOrderAlreadySettling)

	b, err := ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), b.Available)
	assert.Equal(t, int64(1000), b.Locked)
}

func TestSettlementRepo_MarkTerminalWithCredit_Conditional(t *testing.T) {
	ledger, settlements := newTestLedger(t)

	now := time.Now().UTC()
	s := &domain.Settlement{
		ID: "stl-1", OrderID: "ORD-1", PayeeID: "P001", Amount: 1000,
		Currency: "USD", Status: domain.SettlementProcessing,
		Source: domain.SourceBatch, ReservationEntryID: "led-res",
		ReservedAt: now, StartedAt: now,
	}
	res := &domain.LedgerEntry{
		ID: "led-res", PayeeID: "P001", Amount: -1000, Currency: "USD",
		Status: domain.EntryLocked, Type: domain.EntryReservation,
		OrderID: "ORD-1", SettlementID: "stl-1", CreatedAt: now,
	}
	require.NoError(t, settlements.CreateWithReservation(s, res))

	creditEntry := &domain.LedgerEntry{
		ID: "led-credit", PayeeID: "P001", Amount: 1000, Currency: "USD",
		Status: domain.EntryAvailable, Type: domain.EntryReleaseCredit,
		OrderID: "ORD-1", SettlementID: "stl-1",
		IdempotencyKey: "evt-1", CreatedAt: now,
	}

	applied, err := settlements.MarkTerminalWithCredit(
		"stl-1", domain.SettlementFailed, "provider unreachable",
		[]domain.SettlementStatus{domain.SettlementProcessing},
		creditEntry,
	)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := settlements.GetByID("stl-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, got.Status)
	assert.Equal(t, "provider unreachable", got.FailureReason)

	// Reservation and compensation net to zero.
	b, err := ledger.GetBalance("P001", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Available)
	assert.Equal(t, int64(0), b.Locked)

	// FAILED is not in the allowed transition set: nothing happens.
	applied, err = settlements.MarkTerminalWithCredit(
		"stl-1", domain.SettlementReversed, "late reversal",
		[]domain.SettlementStatus{domain.SettlementCompleted},
		&domain.LedgerEntry{
			ID: "led-credit-2", PayeeID: "P001", Amount: 1000, Currency: "USD",
			Status: domain.EntryAvailable, Type: domain.EntryReversalCredit,
			SettlementID: "stl-1", IdempotencyKey: "evt-2", CreatedAt: now,
		},
	)
	require.NoError(t, err)
	assert.False(t, applied)

	n, err := ledger.CountByKey("evt-2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
