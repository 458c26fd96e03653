package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sokoni/payouts/internal/domain"
)

type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Append inserts a ledger entry and returns its id. If the entry carries an
// idempotency key that has already been used, nothing is inserted and the
// existing entry's id is returned instead.
func (r *LedgerRepo) Append(entry *domain.LedgerEntry) (string, error) {
	id, err := appendEntry(r.db, entry)
	if err != nil {
		return "", fmt.Errorf("append ledger entry: %w", err)
	}
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx so ledger appends can run
// inside a caller-owned transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func appendEntry(ex execer, entry *domain.LedgerEntry) (string, error) {
	res, err := ex.Exec(
		`INSERT OR IGNORE INTO ledger_entries
		(id, payee_id, amount, currency, status, type, order_id, settlement_id,
		 idempotency_key, description, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		entry.ID, entry.PayeeID, entry.Amount, entry.Currency,
		string(entry.Status), string(entry.Type),
		nullableString(entry.OrderID), nullableString(entry.SettlementID),
		nullableString(entry.IdempotencyKey), entry.Description,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}

	ra, _ := res.RowsAffected()
	if ra > 0 {
		return entry.ID, nil
	}

	// The idempotency key already exists: resolve the original entry.
	var existing string
	err = ex.QueryRow(
		"SELECT id FROM ledger_entries WHERE idempotency_key = ?",
		entry.IdempotencyKey,
	).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("resolve existing entry for key %q: %w", entry.IdempotencyKey, err)
	}
	return existing, nil
}

// HasEntryForKey reports whether any ledger entry is tagged with the given
// idempotency key. The reconciler uses this to detect already-applied events.
func (r *LedgerRepo) HasEntryForKey(key string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

// GetBalance computes the position for one (payee, currency). Available is
// the plain sum of all entries: a reservation debit reduces it immediately
// and permanently, and a compensating credit restores it. Locked is the
// absolute sum of reservation debits whose settlement is still PROCESSING.
func (r *LedgerRepo) GetBalance(payeeID, currency string) (*domain.Balance, error) {
	b := &domain.Balance{PayeeID: payeeID, Currency: currency}

	err := r.db.QueryRow(
		"SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE payee_id = ? AND currency = ?",
		payeeID, currency,
	).Scan(&b.Available)
	if err != nil {
		return nil, fmt.Errorf("sum entries: %w", err)
	}

	err = r.db.QueryRow(
		`SELECT COALESCE(SUM(-le.amount), 0)
		FROM ledger_entries le
		JOIN settlements s ON s.reservation_entry_id = le.id
		WHERE le.payee_id = ? AND le.currency = ?
		  AND le.type = ? AND s.status = ?`,
		payeeID, currency, string(domain.EntryReservation), string(domain.SettlementProcessing),
	).Scan(&b.Locked)
	if err != nil {
		return nil, fmt.Errorf("sum open reservations: %w", err)
	}

	return b, nil
}

// GetBySettlementID returns all entries linked to a settlement, oldest first.
func (r *LedgerRepo) GetBySettlementID(settlementID string) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(
		"SELECT * FROM ledger_entries WHERE settlement_id = ? ORDER BY created_at",
		settlementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CountByKey returns how many entries carry the given idempotency key.
func (r *LedgerRepo) CountByKey(key string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count, err
}

type LedgerFilter struct {
	PayeeID  string
	Currency string
	Type     string
	Page     int
	Limit    int
}

func (r *LedgerRepo) List(f LedgerFilter) ([]domain.LedgerEntry, int, error) {
	where, args := buildLedgerWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM ledger_entries" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// --- helpers ---

func buildLedgerWhere(f LedgerFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.PayeeID != "" {
		clauses = append(clauses, "payee_id = ?")
		args = append(args, f.PayeeID)
	}
	if f.Currency != "" {
		clauses = append(clauses, "currency = ?")
		args = append(args, f.Currency)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanLedgerEntry(rows *sql.Rows) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var status, typ, createdAt string
	var orderID, settlementID, idemKey, desc sql.NullString

	err := rows.Scan(
		&e.ID, &e.PayeeID, &e.Amount, &e.Currency, &status, &typ,
		&orderID, &settlementID, &idemKey, &desc, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.EntryStatus(status)
	e.Type = domain.EntryType(typ)
	e.OrderID = orderID.String
	e.SettlementID = settlementID.String
	e.IdempotencyKey = idemKey.String
	e.Description = desc.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &e, nil
}
