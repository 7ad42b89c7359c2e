// Tree position operations. Reservation is a guarded UPDATE, so concurrent
// harvest windows on the same position resolve to exactly one winner; the
// harvest itself couples the ledger credit and the position release in one
// SQL transaction.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/domain"
)

// SeedPositions creates missing position rows up to maxPositions. New rows
// start Growing and come due immediately, so the first regrowth sweep makes
// the whole tree harvestable.
func (d *DB) SeedPositions(maxPositions int, now time.Time) error {
	for i := 0; i < maxPositions; i++ {
		if _, err := d.db.Exec(`
			INSERT OR IGNORE INTO positions (position_id, state, next_regrowth_at)
			VALUES (?, 'growing', ?)
		`, i, fmtTime(now)); err != nil {
			return err
		}
	}
	return nil
}

// Positions returns every position row.
func (d *DB) Positions() ([]*domain.LemonPosition, error) {
	rows, err := d.db.Query(`
		SELECT position_id, state, available_since, next_regrowth_at,
		       reserved_by, reserved_attempt, window_expires_at
		FROM positions ORDER BY position_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LemonPosition
	for rows.Next() {
		var p domain.LemonPosition
		var since, regrow, window sql.NullString
		if err := rows.Scan(&p.PositionID, &p.State, &since, &regrow, &p.ReservedBy, &p.ReservedAttempt, &window); err != nil {
			return nil, err
		}
		p.AvailableSince = parseTimePtr(since)
		p.NextRegrowthAt = parseTimePtr(regrow)
		p.WindowExpiresAt = parseTimePtr(window)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Position returns a single position row.
func (d *DB) Position(positionID int) (*domain.LemonPosition, error) {
	var p domain.LemonPosition
	var since, regrow, window sql.NullString
	err := d.db.QueryRow(`
		SELECT position_id, state, available_since, next_regrowth_at,
		       reserved_by, reserved_attempt, window_expires_at
		FROM positions WHERE position_id = ?
	`, positionID).Scan(&p.PositionID, &p.State, &since, &regrow, &p.ReservedBy, &p.ReservedAttempt, &window)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPositionNotAvailable
	}
	if err != nil {
		return nil, err
	}
	p.AvailableSince = parseTimePtr(since)
	p.NextRegrowthAt = parseTimePtr(regrow)
	p.WindowExpiresAt = parseTimePtr(window)
	return &p, nil
}

// TryReservePosition atomically flips Available → Reserved for the given
// attempt. Exactly one concurrent caller can win; losers get
// ErrPositionNotAvailable.
func (d *DB) TryReservePosition(positionID int, accountID string, attemptID int64, windowExpiresAt time.Time) error {
	res, err := d.db.Exec(`
		UPDATE positions
		SET state = 'reserved', reserved_by = ?, reserved_attempt = ?, window_expires_at = ?
		WHERE position_id = ? AND state = 'available'
	`, accountID, attemptID, fmtTime(windowExpiresAt), positionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrPositionNotAvailable
	}
	return nil
}

// ReturnPosition releases a reservation back to Available without a harvest.
// The attempt guard makes the release idempotent: a stale caller cannot
// clobber a newer reservation.
func (d *DB) ReturnPosition(positionID int, attemptID int64) error {
	_, err := d.db.Exec(`
		UPDATE positions
		SET state = 'available', reserved_by = '', reserved_attempt = 0, window_expires_at = NULL
		WHERE position_id = ? AND state = 'reserved' AND reserved_attempt = ?
	`, positionID, attemptID)
	return err
}

// ExpiredReservation pairs a timed-out reservation with its attempt.
type ExpiredReservation struct {
	PositionID int
	AttemptID  int64
}

// ReleaseExpiredWindows returns every reservation whose window has passed to
// Available and reports which attempts lost theirs. One transaction so a
// concurrent harvest cannot slip between the select and the release.
func (d *DB) ReleaseExpiredWindows(now time.Time) ([]ExpiredReservation, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT position_id, reserved_attempt FROM positions
		WHERE state = 'reserved' AND window_expires_at <= ?
	`, fmtTime(now))
	if err != nil {
		return nil, err
	}
	var expired []ExpiredReservation
	for rows.Next() {
		var e ExpiredReservation
		if err := rows.Scan(&e.PositionID, &e.AttemptID); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if _, err := tx.Exec(`
			UPDATE positions
			SET state = 'available', reserved_by = '', reserved_attempt = 0, window_expires_at = NULL
			WHERE position_id = ?
		`, e.PositionID); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`
			UPDATE quiz_attempts SET harvest_status = 'timeout'
			WHERE id = ? AND harvest_status = 'in_progress'
		`, e.AttemptID); err != nil {
			return nil, err
		}
	}
	return expired, tx.Commit()
}

// RegrowDuePositions promotes Growing (and seeded Empty) positions whose
// regrowth time has passed to Available. Returns the promoted position IDs.
func (d *DB) RegrowDuePositions(now time.Time) ([]int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT position_id FROM positions
		WHERE state IN ('growing', 'empty') AND (next_regrowth_at IS NULL OR next_regrowth_at <= ?)
	`, fmtTime(now))
	if err != nil {
		return nil, err
	}
	var due []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range due {
		if _, err := tx.Exec(`
			UPDATE positions
			SET state = 'available', available_since = ?, next_regrowth_at = NULL
			WHERE position_id = ?
		`, fmtTime(now), id); err != nil {
			return nil, err
		}
	}
	return due, tx.Commit()
}

// NextRegrowthTime returns the earliest upcoming regrowth, or nil when no
// position is regrowing.
func (d *DB) NextRegrowthTime() (*time.Time, error) {
	var next sql.NullString
	err := d.db.QueryRow(`
		SELECT MIN(next_regrowth_at) FROM positions
		WHERE state = 'growing' AND next_regrowth_at IS NOT NULL
	`).Scan(&next)
	if err != nil {
		return nil, err
	}
	return parseTimePtr(next), nil
}

// ─── Harvest ────────────────────────────────────────────────────────────────

// HarvestResult is what a successful HarvestTx returns.
type HarvestResult struct {
	TransactionID string
	Amount        int64
	NewBalance    int64
}

// HarvestTx settles a harvest atomically: it verifies the caller still holds
// the reservation, moves the position to Growing, appends the harvest credit
// to the ledger, updates the account's balance and last-harvest time, and
// marks the attempt successful. Either everything commits or nothing does —
// the tree and the ledger can never disagree about a harvest.
//
// Amount is clamped to the storage cap; a full store fails with
// ErrStorageFull and releases nothing.
func (d *DB) HarvestTx(positionID int, accountID string, attemptID int64, rules domain.HarvestRules, regrow time.Duration, now time.Time) (*HarvestResult, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var state, reservedBy string
	var reservedAttempt int64
	var window sql.NullString
	err = tx.QueryRow(`
		SELECT state, reserved_by, reserved_attempt, window_expires_at
		FROM positions WHERE position_id = ?
	`, positionID).Scan(&state, &reservedBy, &reservedAttempt, &window)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPositionNotAvailable
	}
	if err != nil {
		return nil, err
	}

	if state != string(domain.PositionReserved) || reservedAttempt != attemptID {
		return nil, domain.ErrAlreadyHarvested
	}
	if reservedBy != accountID {
		return nil, domain.ErrNotReserver
	}
	if exp := parseTimePtr(window); exp == nil || now.After(*exp) {
		return nil, domain.ErrWindowExpired
	}

	var balance, earned int64
	if err := tx.QueryRow(`
		SELECT lemon_balance, total_earned FROM accounts WHERE id = ?
	`, accountID).Scan(&balance, &earned); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}

	amount := rules.BaseAmount
	if balance+amount > rules.MaxStoredLemons {
		amount = rules.MaxStoredLemons - balance
	}
	if amount <= 0 {
		return nil, domain.ErrStorageFull
	}
	newBalance := balance + amount

	if _, err := tx.Exec(`
		UPDATE positions
		SET state = 'growing', next_regrowth_at = ?, available_since = NULL,
		    reserved_by = '', reserved_attempt = 0, window_expires_at = NULL
		WHERE position_id = ?
	`, fmtTime(now.Add(regrow)), positionID); err != nil {
		return nil, fmt.Errorf("release position: %w", err)
	}

	txID := uuid.New().String()
	note := fmt.Sprintf("harvest from position %d", positionID)
	if _, err := tx.Exec(`
		INSERT INTO ledger_transactions (id, account_id, instance_id, action_type, amount, balance_after, note, created_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?)
	`, txID, accountID, string(domain.ActionHarvest), amount, newBalance, note, fmtTime(now)); err != nil {
		return nil, fmt.Errorf("insert harvest credit: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE accounts
		SET lemon_balance = ?, total_earned = ?, last_harvest_at = ?
		WHERE id = ?
	`, newBalance, earned+amount, fmtTime(now), accountID); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE quiz_attempts SET harvest_status = 'success' WHERE id = ?
	`, attemptID); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &HarvestResult{TransactionID: txID, Amount: amount, NewBalance: newBalance}, nil
}
