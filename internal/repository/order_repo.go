package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sokoni/payouts/internal/domain"
)

// OrderRepo is the local projection of the eligibility/order source: orders
// already verified for payout and the provider accounts of their payees.
// This pipeline only reads it; writes exist for seeding and tests.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) GetOrder(id string) (*domain.PayoutOrder, error) {
	var o domain.PayoutOrder
	var delivered, released int
	var createdAt string

	err := r.db.QueryRow("SELECT * FROM orders WHERE id = ?", id).Scan(
		&o.ID, &o.PayeeID, &o.Amount, &o.Currency, &delivered, &released, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.Delivered = delivered != 0
	o.FundsReleased = released != 0
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &o, nil
}

func (r *OrderRepo) GetAccount(payeeID string) (*domain.PayeeAccount, error) {
	var a domain.PayeeAccount
	var verified, enabled int
	var createdAt string

	err := r.db.QueryRow("SELECT * FROM payee_accounts WHERE payee_id = ?", payeeID).Scan(
		&a.PayeeID, &a.AccountRef, &verified, &enabled, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Verified = verified != 0
	a.PayoutsEnabled = enabled != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func (r *OrderRepo) InsertOrder(o *domain.PayoutOrder) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO orders
		(id, payee_id, amount, currency, delivered, funds_released, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.PayeeID, o.Amount, o.Currency, boolToInt(o.Delivered),
		boolToInt(o.FundsReleased), o.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) InsertAccount(a *domain.PayeeAccount) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO payee_accounts
		(payee_id, account_ref, verified, payouts_enabled, created_at)
		VALUES (?,?,?,?,?)`,
		a.PayeeID, a.AccountRef, boolToInt(a.Verified),
		boolToInt(a.PayoutsEnabled), a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// BulkInsertOrders seeds orders, skipping ids that already exist.
func (r *OrderRepo) BulkInsertOrders(orders []domain.PayoutOrder) (int, error) {
	sqlTx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.Prepare(
		`INSERT OR IGNORE INTO orders
		(id, payee_id, amount, currency, delivered, funds_released, created_at)
		VALUES (?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range orders {
		o := &orders[i]
		res, err := stmt.Exec(
			o.ID, o.PayeeID, o.Amount, o.Currency, boolToInt(o.Delivered),
			boolToInt(o.FundsReleased), o.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert row %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (r *OrderRepo) CountOrders() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM orders").Scan(&count)
	return count, err
}

// SetEligibility flips the delivered / funds-released flags on an order
// (used by tests and the eligibility source's own tooling).
func (r *OrderRepo) SetEligibility(id string, delivered, released bool) error {
	_, err := r.db.Exec(
		"UPDATE orders SET delivered = ?, funds_released = ? WHERE id = ?",
		boolToInt(delivered), boolToInt(released), id,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
