package repository

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// An in-memory database exists per connection; the pool must not open a
	// second one.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite allows a single writer; serialize contention instead of
	// surfacing SQLITE_BUSY to concurrent claimers.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payout_batches (
			id TEXT PRIMARY KEY,
			payee_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			window_date TEXT NOT NULL,
			status TEXT NOT NULL,
			order_ids TEXT NOT NULL,
			order_count INTEGER NOT NULL,
			total_amount INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		// At most one non-terminal batch per (payee, currency, window date).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_batches_open_window
			ON payout_batches(payee_id, currency, window_date)
			WHERE status IN ('SCHEDULED','PROCESSING')`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON payout_batches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_updated_at ON payout_batches(updated_at)`,

		`CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			payee_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			batch_id TEXT,
			transfer_ref TEXT,
			reservation_entry_id TEXT NOT NULL,
			failure_reason TEXT,
			reserved_at DATETIME NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_payee ON settlements(payee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_transfer_ref ON settlements(transfer_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_batch ON settlements(batch_id)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			payee_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			order_id TEXT,
			settlement_id TEXT,
			idempotency_key TEXT,
			description TEXT,
			created_at DATETIME NOT NULL
		)`,
		// Replaying an event with the same idempotency key must not create a
		// second entry.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
			ON ledger_entries(idempotency_key)
			WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_payee_currency ON ledger_entries(payee_id, currency)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_settlement ON ledger_entries(settlement_id)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			payee_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			funds_released INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payee ON orders(payee_id)`,

		`CREATE TABLE IF NOT EXISTS payee_accounts (
			payee_id TEXT PRIMARY KEY,
			account_ref TEXT NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0,
			payouts_enabled INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
