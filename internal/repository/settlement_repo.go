package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sokoni/payouts/internal/domain"
)

// ErrOrderAlreadySettling is returned when inserting a settlement for an
// order that already has one. Settlements are 1:1 with orders, forever.
var ErrOrderAlreadySettling = errors.New("a settlement already exists for this order")

type SettlementRepo struct {
	db *sql.DB
}

func NewSettlementRepo(db *sql.DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

// CreateWithReservation durably commits a new PROCESSING settlement together
// with its ledger reservation debit in a single transaction. If another
// settlement for the same order wins the race, nothing is written and
// ErrOrderAlreadySettling is returned.
func (r *SettlementRepo) CreateWithReservation(s *domain.Settlement, reservation *domain.LedgerEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO settlements
		(id, order_id, payee_id, amount, currency, status, source, batch_id,
		 transfer_ref, reservation_entry_id, failure_reason, reserved_at,
		 started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.OrderID, s.PayeeID, s.Amount, s.Currency, string(s.Status),
		string(s.Source), nullableString(s.BatchID), nullableString(s.TransferRef),
		s.ReservationEntryID, nullableString(s.FailureReason),
		s.ReservedAt.Format(time.RFC3339), s.StartedAt.Format(time.RFC3339),
		formatNullableTime(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return ErrOrderAlreadySettling
	}

	if _, err := appendEntry(tx, reservation); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkCompleted transitions a PROCESSING settlement to COMPLETED, recording
// the provider transfer reference and completion time. Returns false when the
// settlement was no longer PROCESSING (the transition is a conditional
// update, never a blind write).
func (r *SettlementRepo) MarkCompleted(id, transferRef string, completedAt time.Time) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE settlements SET status = ?, transfer_ref = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.SettlementCompleted), transferRef,
		completedAt.Format(time.RFC3339), id, string(domain.SettlementProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra > 0, nil
}

// MarkTerminalWithCredit transitions a settlement to a terminal status
// (FAILED or REVERSED) and appends its compensating credit in one
// transaction. Only settlements whose current status is in fromStatuses are
// touched; returns false with no writes otherwise. The credit insert honours
// its idempotency key, so a replay that somehow reaches this point still
// cannot double-credit.
func (r *SettlementRepo) MarkTerminalWithCredit(
	id string,
	to domain.SettlementStatus,
	reason string,
	fromStatuses []domain.SettlementStatus,
	credit *domain.LedgerEntry,
) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(fromStatuses))
	args := []any{string(to), nullableString(reason), id}
	for i, st := range fromStatuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := tx.Exec(
		`UPDATE settlements SET status = ?, failure_reason = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return false, nil
	}

	if _, err := appendEntry(tx, credit); err != nil {
		return false, fmt.Errorf("insert compensating credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *SettlementRepo) GetByID(id string) (*domain.Settlement, error) {
	rows, err := r.db.Query("SELECT * FROM settlements WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOneSettlement(rows)
}

func (r *SettlementRepo) GetByOrderID(orderID string) (*domain.Settlement, error) {
	rows, err := r.db.Query("SELECT * FROM settlements WHERE order_id = ?", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOneSettlement(rows)
}

// GetByTransferRef resolves a settlement by the provider-side transfer
// reference (fallback lookup for notifications with missing metadata).
func (r *SettlementRepo) GetByTransferRef(ref string) (*domain.Settlement, error) {
	rows, err := r.db.Query("SELECT * FROM settlements WHERE transfer_ref = ?", ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOneSettlement(rows)
}

type SettlementFilter struct {
	PayeeID string
	Status  string
	BatchID string
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}

func (r *SettlementRepo) List(f SettlementFilter) ([]domain.Settlement, int, error) {
	where, args := buildSettlementWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM settlements"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM settlements" + where + " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, 0, err
		}
		settlements = append(settlements, *s)
	}
	return settlements, total, rows.Err()
}

// StatusCounts returns settlement counts grouped by status.
func (r *SettlementRepo) StatusCounts() (map[string]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM settlements GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- helpers ---

func buildSettlementWhere(f SettlementFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.PayeeID != "" {
		clauses = append(clauses, "payee_id = ?")
		args = append(args, f.PayeeID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.From != nil {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func scanOneSettlement(rows *sql.Rows) (*domain.Settlement, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanSettlement(rows)
}

func scanSettlement(rows *sql.Rows) (*domain.Settlement, error) {
	var s domain.Settlement
	var status, source, reservedAt, startedAt string
	var batchID, transferRef, failureReason, completedAt sql.NullString

	err := rows.Scan(
		&s.ID, &s.OrderID, &s.PayeeID, &s.Amount, &s.Currency, &status, &source,
		&batchID, &transferRef, &s.ReservationEntryID, &failureReason,
		&reservedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.SettlementStatus(status)
	s.Source = domain.SettlementSource(source)
	s.BatchID = batchID.String
	s.TransferRef = transferRef.String
	s.FailureReason = failureReason.String
	s.ReservedAt, _ = time.Parse(time.RFC3339, reservedAt)
	s.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		s.CompletedAt = &t
	}

	return &s, nil
}
