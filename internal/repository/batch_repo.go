package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sokoni/payouts/internal/domain"
)

// ErrDuplicateWindow is returned when creating a batch for a
// (payee, currency, window date) window that already has a non-terminal batch.
var ErrDuplicateWindow = errors.New("a batch for this payout window already exists")

type BatchRepo struct {
	db *sql.DB
}

func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// Create inserts a new SCHEDULED batch. The order list is serialized once and
// never updated afterwards.
func (r *BatchRepo) Create(b *domain.PayoutBatch) error {
	orderIDs, err := json.Marshal(b.OrderIDs)
	if err != nil {
		return fmt.Errorf("marshal order ids: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO payout_batches
		(id, payee_id, currency, window_date, status, order_ids, order_count,
		 total_amount, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.PayeeID, b.Currency, b.WindowDate, string(b.Status),
		string(orderIDs), b.OrderCount, b.TotalAmount,
		b.CreatedAt.Format(time.RFC3339), b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateWindow
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest SCHEDULED batch whose window date
// has arrived, transitioning it to PROCESSING with a fresh heartbeat. Under
// concurrent callers exactly one wins a given batch; losers get (nil, nil).
func (r *BatchRepo) ClaimNext(now time.Time) (*domain.PayoutBatch, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(
		`SELECT id FROM payout_batches
		WHERE status = ? AND window_date <= ?
		ORDER BY window_date, created_at LIMIT 1`,
		string(domain.BatchScheduled), now.UTC().Format("2006-01-02"),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select candidate: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE payout_batches SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.BatchProcessing), now.Format(time.RFC3339),
		id, string(domain.BatchScheduled),
	)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		// Another worker claimed it between our select and update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetByID(id)
}

// ReclaimStuck finds a PROCESSING batch whose heartbeat is older than the
// lease timeout and renews its heartbeat, returning it for processing. The
// compare-and-swap on the old heartbeat ensures two reclaimers cannot both
// win the same batch.
func (r *BatchRepo) ReclaimStuck(now time.Time, lease time.Duration) (*domain.PayoutBatch, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Add(-lease).Format(time.RFC3339)

	var id, heartbeat string
	err = tx.QueryRow(
		`SELECT id, updated_at FROM payout_batches
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at LIMIT 1`,
		string(domain.BatchProcessing), cutoff,
	).Scan(&id, &heartbeat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select stuck: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE payout_batches SET updated_at = ?
		WHERE id = ? AND status = ? AND updated_at = ?`,
		now.Format(time.RFC3339), id, string(domain.BatchProcessing), heartbeat,
	)
	if err != nil {
		return nil, fmt.Errorf("reclaim %s: %w", id, err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.GetByID(id)
}

// Heartbeat advances the lease timestamp of a PROCESSING batch.
func (r *BatchRepo) Heartbeat(id string, now time.Time) error {
	_, err := r.db.Exec(
		"UPDATE payout_batches SET updated_at = ? WHERE id = ? AND status = ?",
		now.Format(time.RFC3339), id, string(domain.BatchProcessing),
	)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", id, err)
	}
	return nil
}

// Finalize transitions a PROCESSING batch to CONSUMED once all of its orders
// have been attempted.
func (r *BatchRepo) Finalize(id string, now time.Time) error {
	res, err := r.db.Exec(
		"UPDATE payout_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(domain.BatchConsumed), now.Format(time.RFC3339),
		id, string(domain.BatchProcessing),
	)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", id, err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return fmt.Errorf("finalize %s: batch is not PROCESSING", id)
	}
	return nil
}

func (r *BatchRepo) GetByID(id string) (*domain.PayoutBatch, error) {
	rows, err := r.db.Query("SELECT * FROM payout_batches WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanBatch(rows)
}

type BatchFilter struct {
	PayeeID string
	Status  string
	Page    int
	Limit   int
}

func (r *BatchRepo) List(f BatchFilter) ([]domain.PayoutBatch, int, error) {
	where, args := buildBatchWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM payout_batches"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM payout_batches" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var batches []domain.PayoutBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, *b)
	}
	return batches, total, rows.Err()
}

// StatusCounts returns batch counts grouped by status.
func (r *BatchRepo) StatusCounts() (map[string]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM payout_batches GROUP BY status")
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

func buildBatchWhere(f BatchFilter) (string, []any) {
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

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanBatch(rows *sql.Rows) (*domain.PayoutBatch, error) {
	var b domain.PayoutBatch
	var status, orderIDs, createdAt, updatedAt string

	err := rows.Scan(
		&b.ID, &b.PayeeID, &b.Currency, &b.WindowDate, &status, &orderIDs,
		&b.OrderCount, &b.TotalAmount, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BatchStatus(status)
	if err := json.Unmarshal([]byte(orderIDs), &b.OrderIDs); err != nil {
		return nil, fmt.Errorf("unmarshal order ids for %s: %w", b.ID, err)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &b, nil
}
