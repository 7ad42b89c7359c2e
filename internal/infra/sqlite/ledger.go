// Ledger and account operations. The balance column on accounts is a cache:
// it is only ever written in the same transaction as a ledger insert, so
// balance == total_earned − total_spent holds at every commit point.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/domain"
)

// EnsureAccount inserts the account if it does not exist yet.
// Returns true when a new row was created. Only the id conflict is benign;
// any other constraint failure surfaces as an error.
func (d *DB) EnsureAccount(id, email string, now time.Time) (bool, error) {
	res, err := d.db.Exec(`
		INSERT INTO accounts (id, email, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, email, fmtTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Account loads one account.
func (d *DB) Account(id string) (*domain.Account, error) {
	var a domain.Account
	var lastHarvest sql.NullString
	var joined string
	err := d.db.QueryRow(`
		SELECT id, email, lemon_balance, total_earned, total_spent, last_harvest_at, joined_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Email, &a.LemonBalance, &a.TotalEarned, &a.TotalSpent, &lastHarvest, &joined)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.LastHarvestAt = parseTimePtr(lastHarvest)
	a.JoinedAt = parseTime(joined)
	return &a, nil
}

// ApplyLedger appends one ledger transaction and updates the cached balance
// in the same SQL transaction. Negative amounts that would drive the balance
// below zero fail with ErrInsufficientBalance; positive amounts that would
// exceed maxStored fail with ErrStorageFull. Nothing is written on failure.
func (d *DB) ApplyLedger(accountID string, action domain.ActionType, amount int64, instanceID *string, note string, maxStored int64, now time.Time) (*domain.Transaction, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var balance, earned, spent int64
	err = tx.QueryRow(`
		SELECT lemon_balance, total_earned, total_spent FROM accounts WHERE id = ?
	`, accountID).Scan(&balance, &earned, &spent)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	newBalance := balance + amount
	if amount < 0 && newBalance < 0 {
		return nil, domain.ErrInsufficientBalance
	}
	if amount > 0 && maxStored > 0 && newBalance > maxStored {
		return nil, domain.ErrStorageFull
	}

	if amount >= 0 {
		earned += amount
	} else {
		spent += -amount
	}

	entry := &domain.Transaction{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		InstanceID:   instanceID,
		ActionType:   action,
		Amount:       amount,
		BalanceAfter: newBalance,
		Note:         note,
		CreatedAt:    now,
	}

	var instID any
	if instanceID != nil {
		instID = *instanceID
	}
	if _, err := tx.Exec(`
		INSERT INTO ledger_transactions (id, account_id, instance_id, action_type, amount, balance_after, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, accountID, instID, string(action), amount, newBalance, note, fmtTime(now)); err != nil {
		return nil, fmt.Errorf("insert ledger row: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE accounts SET lemon_balance = ?, total_earned = ?, total_spent = ? WHERE id = ?
	`, newBalance, earned, spent, accountID); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Transactions lists an account's ledger history, newest first.
func (d *DB) Transactions(accountID string, limit, offset int) ([]*domain.Transaction, error) {
	rows, err := d.db.Query(`
		SELECT id, account_id, instance_id, action_type, amount, balance_after, note, created_at
		FROM ledger_transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var instID sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.AccountID, &instID, &t.ActionType, &t.Amount, &t.BalanceAfter, &t.Note, &created); err != nil {
			return nil, err
		}
		if instID.Valid {
			t.InstanceID = &instID.String
		}
		t.CreatedAt = parseTime(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// TotalHarvested counts successful harvests across all accounts.
func (d *DB) TotalHarvested() (int64, error) {
	var n int64
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM ledger_transactions WHERE action_type = ?
	`, string(domain.ActionHarvest)).Scan(&n)
	return n, err
}

// CountAccounts returns the number of registered accounts.
func (d *DB) CountAccounts() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n)
	return n, err
}
