package harvest

import (
	"errors"
	"testing"
	"time"

	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/app/quiz"
	"github.com/grovekit/grove/internal/app/tree"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

type harness struct {
	db      *sqlite.DB
	ledger  *ledger.Service
	pool    *tree.Pool
	quiz    *quiz.Engine
	arbiter *Arbiter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db, domain.DefaultHarvestRules())
	pool, err := tree.New(tree.DefaultConfig(), db)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	pool.RunSweep(time.Now().UTC().Add(time.Second))

	return &harness{
		db:      db,
		ledger:  led,
		pool:    pool,
		quiz:    quiz.New(quiz.DefaultConfig(), db, led, pool, nil),
		arbiter: New(db, led, pool),
	}
}

// openWindow walks an account through quiz start and a correct answer,
// returning the attempt holding the open window.
func (h *harness) openWindow(t *testing.T, account string, position int, now time.Time) int64 {
	t.Helper()
	if _, err := h.ledger.EnsureAccount(account, "", now); err != nil {
		t.Fatalf("ensure %s: %v", account, err)
	}
	start, err := h.quiz.Start(account, position, now)
	if err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	attempt, err := h.db.Attempt(start.AttemptID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	q, err := h.db.Question(attempt.QuestionID)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	res, err := h.quiz.Submit(account, start.AttemptID, q.CorrectOptionIdx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.HarvestEnabled {
		t.Fatalf("window did not open: %+v", res)
	}
	return start.AttemptID
}

func TestHarvestHappyPath(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	attemptID := h.openWindow(t, "u1", 0, now)

	res, err := h.arbiter.Harvest("u1", 0, attemptID, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if res.HarvestAmount != 5 {
		t.Errorf("amount = %d, want 5", res.HarvestAmount)
	}
	if res.NewBalance != 35 { // welcome bonus 30 + 5
		t.Errorf("balance = %d, want 35", res.NewBalance)
	}
	if res.TransactionID == "" {
		t.Error("missing transaction ID")
	}

	acct, err := h.ledger.Account("u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.LastHarvestAt == nil {
		t.Fatal("last harvest time not recorded")
	}

	// cooldown is now active: quiz starts are rejected
	if _, err := h.quiz.Start("u1", 1, now.Add(3*time.Second)); !errors.Is(err, domain.ErrCooldownActive) {
		t.Errorf("start during cooldown err = %v, want ErrCooldownActive", err)
	}
}

func TestDoubleHarvest(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	attemptID := h.openWindow(t, "u1", 0, now)

	if _, err := h.arbiter.Harvest("u1", 0, attemptID, now.Add(2*time.Second)); err != nil {
		t.Fatalf("first harvest: %v", err)
	}
	if _, err := h.arbiter.Harvest("u1", 0, attemptID, now.Add(3*time.Second)); !errors.Is(err, domain.ErrAlreadyHarvested) {
		t.Fatalf("second harvest err = %v, want ErrAlreadyHarvested", err)
	}
}

func TestHarvestWindowExpired(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	attemptID := h.openWindow(t, "u1", 0, now)

	late := now.Add(domain.DefaultHarvestRules().WindowDuration + 2*time.Second)
	if _, err := h.arbiter.Harvest("u1", 0, attemptID, late); !errors.Is(err, domain.ErrWindowExpired) {
		t.Fatalf("late harvest err = %v, want ErrWindowExpired", err)
	}

	// the loss releases the position and marks the attempt
	pos, err := h.db.Position(0)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.State != domain.PositionAvailable {
		t.Errorf("position after expiry = %s, want available", pos.State)
	}
	attempt, _ := h.db.Attempt(attemptID)
	if attempt.HarvestStatus != domain.HarvestTimeout {
		t.Errorf("harvest status = %s, want timeout", attempt.HarvestStatus)
	}

	// and no lemons moved
	acct, _ := h.ledger.Account("u1")
	if acct.LemonBalance != 30 {
		t.Errorf("balance = %d, want untouched 30", acct.LemonBalance)
	}
}

func TestHarvestForeignAttempt(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	attemptID := h.openWindow(t, "u1", 0, now)
	if _, err := h.ledger.EnsureAccount("u2", "", now); err != nil {
		t.Fatalf("ensure u2: %v", err)
	}

	if _, err := h.arbiter.Harvest("u2", 0, attemptID, now.Add(time.Second)); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("foreign harvest err = %v, want ErrAttemptNotFound", err)
	}
}

func TestHarvestWrongPosition(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	attemptID := h.openWindow(t, "u1", 0, now)

	if _, err := h.arbiter.Harvest("u1", 1, attemptID, now.Add(time.Second)); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("wrong position err = %v, want ErrAttemptNotFound", err)
	}
}

func TestHarvestWithoutWindow(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	if _, err := h.ledger.EnsureAccount("u1", "", now); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	start, err := h.quiz.Start("u1", 0, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// never answered: no window to settle
	if _, err := h.arbiter.Harvest("u1", 0, start.AttemptID, now.Add(time.Second)); !errors.Is(err, domain.ErrAttemptAlreadyTerminal) {
		t.Fatalf("unanswered harvest err = %v, want ErrAttemptAlreadyTerminal", err)
	}
}
