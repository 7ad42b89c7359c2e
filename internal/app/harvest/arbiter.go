// Package harvest settles the final click of a harvest window. The arbiter
// validates the attempt, takes the account's ledger stripe, and lets the
// store's single transaction decide who actually gets the lemon.
package harvest

import (
	"errors"
	"log"
	"time"

	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/app/tree"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// Arbiter settles harvest clicks.
type Arbiter struct {
	db     *sqlite.DB
	ledger *ledger.Service
	pool   *tree.Pool
}

// New creates a harvest arbiter.
func New(db *sqlite.DB, led *ledger.Service, pool *tree.Pool) *Arbiter {
	return &Arbiter{db: db, ledger: led, pool: pool}
}

// Result is what a settled harvest returns to the client.
type Result struct {
	HarvestAmount   int64     `json:"harvestAmount"`
	NewBalance      int64     `json:"newBalance"`
	NextHarvestTime time.Time `json:"nextHarvestTime"`
	TransactionID   string    `json:"transactionId"`
}

// Harvest credits the lemon for an open window. The attempt must belong to
// the account, be resolved correct, and still hold its window. On a timed-out
// window the position is released and the attempt marked; on a lost
// reservation the attempt is marked failed.
func (a *Arbiter) Harvest(accountID string, positionID int, attemptID int64, now time.Time) (*Result, error) {
	attempt, err := a.db.Attempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.AccountID != accountID {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.PositionID != positionID {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.Status != domain.AttemptDone || !attempt.IsCorrect {
		return nil, domain.ErrAttemptAlreadyTerminal
	}
	switch attempt.HarvestStatus {
	case domain.HarvestInProgress:
		// window may still be open
	case domain.HarvestSuccess:
		return nil, domain.ErrAlreadyHarvested
	case domain.HarvestTimeout:
		return nil, domain.ErrWindowExpired
	default:
		return nil, domain.ErrAlreadyHarvested
	}

	rules := a.ledger.Rules()

	defer a.ledger.Lock(accountID)()
	res, err := a.db.HarvestTx(positionID, accountID, attemptID, rules, a.pool.Rules().RegrowDuration, now)
	if err != nil {
		a.recordLoss(positionID, attemptID, err)
		return nil, err
	}
	observability.HarvestsTotal.WithLabelValues("success").Inc()
	observability.LedgerTransactions.WithLabelValues(string(domain.ActionHarvest)).Inc()
	log.Printf("[harvest] account=%s position=%d amount=%d balance=%d", accountID, positionID, res.Amount, res.NewBalance)

	return &Result{
		HarvestAmount:   res.Amount,
		NewBalance:      res.NewBalance,
		NextHarvestTime: now.Add(rules.CooldownPeriod),
		TransactionID:   res.TransactionID,
	}, nil
}

// recordLoss updates the attempt and position for losing outcomes so state
// does not linger until the sweep.
func (a *Arbiter) recordLoss(positionID int, attemptID int64, cause error) {
	switch {
	case errors.Is(cause, domain.ErrWindowExpired):
		if err := a.db.SetHarvestStatus(attemptID, domain.HarvestTimeout); err != nil {
			log.Printf("[harvest] mark timeout attempt=%d: %v", attemptID, err)
		}
		if err := a.pool.Release(positionID, attemptID); err != nil {
			log.Printf("[harvest] release position=%d: %v", positionID, err)
		}
		observability.HarvestsTotal.WithLabelValues("window_timeout").Inc()
	case errors.Is(cause, domain.ErrAlreadyHarvested):
		if err := a.db.SetHarvestStatus(attemptID, domain.HarvestFailure); err != nil {
			log.Printf("[harvest] mark failure attempt=%d: %v", attemptID, err)
		}
		observability.HarvestRacesLost.Inc()
	case errors.Is(cause, domain.ErrStorageFull):
		observability.HarvestsTotal.WithLabelValues("storage_full").Inc()
	}
}
