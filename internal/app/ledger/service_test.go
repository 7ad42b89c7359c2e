package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, domain.DefaultHarvestRules())
}

func TestEnsureAccountWelcomeBonus(t *testing.T) {
	s := newTestService(t)
	now := time.Now().UTC()

	acct, err := s.EnsureAccount("u1", "u1@test.local", now)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if acct.LemonBalance != 30 {
		t.Errorf("balance = %d, want welcome bonus 30", acct.LemonBalance)
	}

	// second sight must not grant it again
	acct, err = s.EnsureAccount("u1", "u1@test.local", now)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if acct.LemonBalance != 30 {
		t.Errorf("balance after re-ensure = %d, want 30", acct.LemonBalance)
	}

	txs, err := s.Transactions("u1", 10, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].ActionType != domain.ActionWelcomeBonus {
		t.Errorf("ledger = %+v, want single welcome_bonus entry", txs)
	}
}

func TestConcurrentApplies(t *testing.T) {
	s := newTestService(t)
	now := time.Now().UTC()
	if _, err := s.EnsureAccount("u1", "", now); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Apply("u1", domain.ActionHarvest, 5, nil, "h", time.Now().UTC()); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, err := s.Account("u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if want := int64(30 + n*5); acct.LemonBalance != want {
		t.Errorf("balance = %d, want %d", acct.LemonBalance, want)
	}
	if want := int64(30 + n*5); acct.TotalEarned != want {
		t.Errorf("total earned = %d, want %d", acct.TotalEarned, want)
	}
}

func TestCanHarvestCooldown(t *testing.T) {
	s := newTestService(t)
	now := time.Now().UTC()
	if _, err := s.EnsureAccount("u1", "", now); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	can, wait, err := s.CanHarvest("u1", now)
	if err != nil || !can || wait != 0 {
		t.Fatalf("fresh account: can=%v wait=%s err=%v", can, wait, err)
	}
}

func TestApplyPropagatesGuards(t *testing.T) {
	s := newTestService(t)
	now := time.Now().UTC()
	if _, err := s.EnsureAccount("u1", "", now); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := s.Apply("u1", domain.ActionInstanceCreate, -1000, nil, "big", now); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}
