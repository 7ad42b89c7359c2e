// Package sqlite provides the embedded persistence layer for grove.
// A single SQLite database holds accounts, the lemon ledger, tree positions,
// quiz questions and attempts, instances, and presets.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle. All stores hang off this type.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the grove database under dir and applies the schema.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "grove.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc SQLite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// migrate applies the schema and seed data.
// Each string is a single SQL statement (SQLite executes one at a time).
func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w\n%s", err, stmt)
		}
	}
	if err := d.seedQuestions(); err != nil {
		return err
	}
	return d.seedPresets()
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
func Migrations() []string {
	return []string{
		// Accounts — balance is a cache over the ledger, updated in the
		// same transaction as every ledger insert.
		`CREATE TABLE IF NOT EXISTS accounts (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL DEFAULT '',
			lemon_balance   INTEGER NOT NULL DEFAULT 0,
			total_earned    INTEGER NOT NULL DEFAULT 0,
			total_spent     INTEGER NOT NULL DEFAULT 0,
			last_harvest_at TEXT,
			joined_at       TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Ledger — append-only; rows are never updated or deleted.
		`CREATE TABLE IF NOT EXISTS ledger_transactions (
			id            TEXT PRIMARY KEY,
			account_id    TEXT NOT NULL,
			instance_id   TEXT,
			action_type   TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			note          TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_transactions(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_action ON ledger_transactions(action_type)`,

		// Tree positions — the fixed, shared harvest slots.
		`CREATE TABLE IF NOT EXISTS positions (
			position_id       INTEGER PRIMARY KEY,
			state             TEXT NOT NULL DEFAULT 'empty',
			available_since   TEXT,
			next_regrowth_at  TEXT,
			reserved_by       TEXT NOT NULL DEFAULT '',
			reserved_attempt  INTEGER NOT NULL DEFAULT 0,
			window_expires_at TEXT
		)`,

		// Quiz bank.
		`CREATE TABLE IF NOT EXISTS questions (
			id           INTEGER PRIMARY KEY,
			question     TEXT NOT NULL,
			options_json TEXT NOT NULL,
			correct_idx  INTEGER NOT NULL,
			category     TEXT NOT NULL DEFAULT 'basics',
			time_limit   INTEGER NOT NULL DEFAULT 15,
			active       INTEGER NOT NULL DEFAULT 1
		)`,

		// Quiz attempts.
		`CREATE TABLE IF NOT EXISTS quiz_attempts (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id        TEXT NOT NULL,
			position_id       INTEGER NOT NULL,
			question_id       INTEGER NOT NULL,
			status            TEXT NOT NULL DEFAULT 'started',
			harvest_status    TEXT NOT NULL DEFAULT 'none',
			is_correct        INTEGER NOT NULL DEFAULT 0,
			selected_option   INTEGER NOT NULL DEFAULT -1,
			issued_at         TEXT NOT NULL,
			submitted_at      TEXT,
			window_expires_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_open ON quiz_attempts(account_id, position_id, status)`,

		// Instances.
		`CREATE TABLE IF NOT EXISTS instances (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id    TEXT NOT NULL UNIQUE,
			account_id     TEXT NOT NULL,
			name           TEXT NOT NULL,
			type           TEXT NOT NULL,
			size           TEXT NOT NULL,
			mode           TEXT NOT NULL,
			from_preset    TEXT,
			cpu            REAL NOT NULL,
			memory_mb      INTEGER NOT NULL,
			disk_gb        INTEGER NOT NULL,
			creation_cost  INTEGER NOT NULL,
			hourly_lemons  INTEGER NOT NULL,
			minimum_lemons INTEGER NOT NULL,
			status         TEXT NOT NULL DEFAULT 'provisioning',
			status_reason  TEXT NOT NULL DEFAULT '',
			endpoint       TEXT NOT NULL DEFAULT '',
			port           INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			last_billed_at TEXT,
			stopped_at     TEXT,
			UNIQUE(account_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instance_account ON instances(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_instance_status ON instances(status)`,

		// Presets.
		`CREATE TABLE IF NOT EXISTS presets (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			size           TEXT NOT NULL,
			mode           TEXT NOT NULL,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			cpu            REAL NOT NULL,
			memory_mb      INTEGER NOT NULL,
			disk_gb        INTEGER NOT NULL,
			creation_cost  INTEGER NOT NULL,
			hourly_lemons  INTEGER NOT NULL,
			minimum_lemons INTEGER NOT NULL,
			sort_order     INTEGER NOT NULL DEFAULT 0,
			active         INTEGER NOT NULL DEFAULT 1
		)`,
	}
}

// ─── Time Helpers ───────────────────────────────────────────────────────────
// Timestamps are stored as RFC3339 TEXT.

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
