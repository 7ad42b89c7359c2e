package tree

import (
	"errors"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

func newTestPool(t *testing.T) (*Pool, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pool, err := New(DefaultConfig(), db)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool, db
}

func TestStatusAfterSweep(t *testing.T) {
	pool, _ := newTestPool(t)

	// freshly seeded positions start growing
	st, err := pool.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.AvailablePositions) != 0 {
		t.Fatalf("available before sweep = %v", st.AvailablePositions)
	}
	if st.NextRegrowthTime == nil {
		t.Fatal("NextRegrowthTime should be set while positions grow")
	}

	pool.RunSweep(time.Now().UTC().Add(time.Second))

	st, err = pool.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.AvailablePositions) != 10 {
		t.Fatalf("available after sweep = %v", st.AvailablePositions)
	}
	if st.NextRegrowthTime != nil {
		t.Errorf("NextRegrowthTime = %v with nothing growing", st.NextRegrowthTime)
	}
}

func TestIsAvailableRangeCheck(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.RunSweep(time.Now().UTC().Add(time.Second))

	for _, id := range []int{-1, 10, 99} {
		ok, err := pool.IsAvailable(id)
		if err != nil || ok {
			t.Errorf("IsAvailable(%d) = %v, %v", id, ok, err)
		}
	}
	ok, err := pool.IsAvailable(3)
	if err != nil || !ok {
		t.Errorf("IsAvailable(3) = %v, %v", ok, err)
	}
}

func TestReserveAndRelease(t *testing.T) {
	pool, db := newTestPool(t)
	now := time.Now().UTC()
	pool.RunSweep(now.Add(time.Second))

	expiry := now.Add(5 * time.Second)
	if err := pool.TryReserve(2, "alice", 1, expiry); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := pool.TryReserve(2, "bob", 2, expiry); !errors.Is(err, domain.ErrPositionNotAvailable) {
		t.Fatalf("second reserve err = %v", err)
	}

	// a stale attempt ID cannot release someone else's reservation
	if err := pool.Release(2, 99); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	pos, err := db.Position(2)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.State != domain.PositionReserved {
		t.Fatalf("state after stale release = %q", pos.State)
	}

	if err := pool.Release(2, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err := pool.IsAvailable(2)
	if err != nil || !ok {
		t.Errorf("IsAvailable after release = %v, %v", ok, err)
	}
}

func TestSweepReclaimsExpiredWindow(t *testing.T) {
	pool, db := newTestPool(t)
	now := time.Now().UTC()
	pool.RunSweep(now.Add(time.Second))

	if err := pool.TryReserve(4, "alice", 7, now.Add(5*time.Second)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// not yet expired
	pool.RunSweep(now.Add(3 * time.Second))
	pos, _ := db.Position(4)
	if pos.State != domain.PositionReserved {
		t.Fatalf("state before expiry = %q", pos.State)
	}

	pool.RunSweep(now.Add(10 * time.Second))
	pos, _ = db.Position(4)
	if pos.State != domain.PositionAvailable {
		t.Fatalf("state after expiry = %q", pos.State)
	}
}
