// Package ledger serializes balance changes per account and fronts the
// append-only transaction log.
//
// Every lemon that moves goes through Apply: it takes the account's stripe
// lock, delegates to the store's transactional balance update, and bumps the
// metric for the action. The stripe locks keep two goroutines from racing the
// same account even before they reach SQLite.
package ledger

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// stripeCount must be a power of two.
const stripeCount = 64

// Service applies ledger transactions with per-account serialization.
type Service struct {
	db      *sqlite.DB
	rules   domain.HarvestRules
	stripes [stripeCount]sync.Mutex
}

// New creates a ledger service.
func New(db *sqlite.DB, rules domain.HarvestRules) *Service {
	return &Service{db: db, rules: rules}
}

func (s *Service) stripe(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &s.stripes[h.Sum32()&(stripeCount-1)]
}

// Lock takes the account's stripe lock for callers that need to compose
// several reads and an Apply into one critical section.
func (s *Service) Lock(accountID string) func() {
	mu := s.stripe(accountID)
	mu.Lock()
	return mu.Unlock
}

// Apply appends one transaction and updates the cached balance atomically.
// Amount is signed: positive credits, negative debits. Fails with
// ErrInsufficientBalance or ErrStorageFull without writing anything.
func (s *Service) Apply(accountID string, action domain.ActionType, amount int64, instanceID *string, note string, now time.Time) (*domain.Transaction, error) {
	defer s.Lock(accountID)()
	return s.applyLocked(accountID, action, amount, instanceID, note, now)
}

// ApplyLocked is Apply for callers already holding the account's stripe lock
// via Lock.
func (s *Service) ApplyLocked(accountID string, action domain.ActionType, amount int64, instanceID *string, note string, now time.Time) (*domain.Transaction, error) {
	return s.applyLocked(accountID, action, amount, instanceID, note, now)
}

func (s *Service) applyLocked(accountID string, action domain.ActionType, amount int64, instanceID *string, note string, now time.Time) (*domain.Transaction, error) {
	tx, err := s.db.ApplyLedger(accountID, action, amount, instanceID, note, s.rules.MaxStoredLemons, now)
	if err != nil {
		return nil, err
	}
	observability.LedgerTransactions.WithLabelValues(string(action)).Inc()
	return tx, nil
}

// EnsureAccount provisions the account row if it does not exist yet, crediting
// the welcome bonus on first sight. Returns the account either way.
func (s *Service) EnsureAccount(accountID, email string, now time.Time) (*domain.Account, error) {
	defer s.Lock(accountID)()

	created, err := s.db.EnsureAccount(accountID, email, now)
	if err != nil {
		return nil, err
	}
	if created && s.rules.WelcomeBonus > 0 {
		if _, err := s.applyLocked(accountID, domain.ActionWelcomeBonus, s.rules.WelcomeBonus, nil, "welcome bonus", now); err != nil {
			return nil, err
		}
	}
	return s.db.Account(accountID)
}

// Account returns the account record.
func (s *Service) Account(accountID string) (*domain.Account, error) {
	return s.db.Account(accountID)
}

// Transactions pages through an account's history, newest first.
func (s *Service) Transactions(accountID string, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.Transactions(accountID, limit, offset)
}

// CanHarvest reports whether the account's cooldown has elapsed and, if not,
// how long remains.
func (s *Service) CanHarvest(accountID string, now time.Time) (bool, time.Duration, error) {
	acct, err := s.db.Account(accountID)
	if err != nil {
		return false, 0, err
	}
	if acct.LastHarvestAt == nil {
		return true, 0, nil
	}
	next := acct.LastHarvestAt.Add(s.rules.CooldownPeriod)
	if !now.Before(next) {
		return true, 0, nil
	}
	return false, next.Sub(now), nil
}

// Rules exposes the harvest policy in effect.
func (s *Service) Rules() domain.HarvestRules { return s.rules }
