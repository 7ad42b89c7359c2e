// Package quiz gates harvests behind a one-question quiz. The engine issues
// attempts, scores answers against the per-question time limit, and on a
// correct answer opens the short harvest window by reserving the position.
package quiz

import (
	"log"
	"sync"
	"time"

	"github.com/grovekit/grove/internal/app/ledger"
	"github.com/grovekit/grove/internal/app/tree"
	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// Config controls engine behavior.
type Config struct {
	SweepInterval   time.Duration // stale-attempt sweep cadence
	MaxAnswerWindow time.Duration // hard ceiling the sweep uses; >= any question's limit
}

// DefaultConfig returns the production quiz policy.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   30 * time.Second,
		MaxAnswerWindow: 15 * time.Second,
	}
}

// Engine runs the quiz gate.
type Engine struct {
	cfg    Config
	db     *sqlite.DB
	ledger *ledger.Service
	pool   *tree.Pool
	cache  AttemptCache

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	running bool
}

// New creates a quiz engine. cache may be nil, in which case an in-process
// cache is used.
func New(cfg Config, db *sqlite.DB, led *ledger.Service, pool *tree.Pool, cache AttemptCache) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Engine{cfg: cfg, db: db, ledger: led, pool: pool, cache: cache}
}

// StartResult is a freshly issued quiz, in the flat shape clients consume:
// question text and options at the top level, never the correct index.
type StartResult struct {
	AttemptID  int64     `json:"attemptID"`
	PositionID int       `json:"positionId"`
	Question   string    `json:"question"`
	Options    []string  `json:"options"`
	TimeLimit  int       `json:"timeLimit"` // seconds
	IssuedAt   time.Time `json:"issuedAt"`
}

// Start issues a quiz for the position. The account must be off cooldown,
// the position available, and no earlier attempt by this account for this
// position still open.
func (e *Engine) Start(accountID string, positionID int, now time.Time) (*StartResult, error) {
	ok, _, err := e.ledger.CanHarvest(accountID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrCooldownActive
	}

	available, err := e.pool.IsAvailable(positionID)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, domain.ErrPositionNotAvailable
	}

	open, err := e.db.HasOpenAttempt(accountID, positionID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domain.ErrAlreadyAttempting
	}

	q, err := e.db.RandomActiveQuestion()
	if err != nil {
		return nil, err
	}

	attemptID, err := e.db.CreateAttempt(accountID, positionID, q.ID, now)
	if err != nil {
		return nil, err
	}
	e.cache.Put(attemptID, CachedAnswer{
		QuestionID:    q.ID,
		CorrectOption: q.CorrectOptionIdx,
		TimeLimit:     q.TimeLimit,
	}, time.Duration(q.TimeLimit)*time.Second+e.cfg.SweepInterval)

	return &StartResult{
		AttemptID:  attemptID,
		PositionID: positionID,
		Question:   q.Question,
		Options:    q.Options,
		TimeLimit:  q.TimeLimit,
		IssuedAt:   now,
	}, nil
}

// SubmitResult reports the outcome of an answer. Status is the terminal
// attempt state the submission produced (done or timeout).
type SubmitResult struct {
	AttemptID        int64                `json:"attemptID"`
	IsCorrect        bool                 `json:"isCorrect"`
	Status           domain.AttemptStatus `json:"status"`
	CorrectOption    int                  `json:"correctOption"`
	HarvestEnabled   bool                 `json:"harvestEnabled"`
	HarvestTimeoutAt *time.Time           `json:"harvestTimeoutAt,omitempty"`
}

// Submit scores an answer. A correct answer inside the time limit opens the
// harvest window by reserving the position for this attempt; if another
// attempt's window already holds the position, the answer still scores
// correct but the harvest is marked lost.
func (e *Engine) Submit(accountID string, attemptID int64, selected int, now time.Time) (*SubmitResult, error) {
	attempt, err := e.db.Attempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.AccountID != accountID {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.Status.Terminal() {
		return nil, domain.ErrAttemptAlreadyTerminal
	}

	ans, err := e.answerFor(attempt)
	if err != nil {
		return nil, err
	}
	defer e.cache.Delete(attemptID)

	deadline := attempt.IssuedAt.Add(time.Duration(ans.TimeLimit) * time.Second)
	if now.After(deadline) {
		if err := e.db.ResolveAttempt(attemptID, domain.AttemptTimeout, selected, false, domain.HarvestNone, nil, now); err != nil {
			return nil, err
		}
		observability.QuizAttemptsTotal.WithLabelValues("timeout").Inc()
		return &SubmitResult{AttemptID: attemptID, Status: domain.AttemptTimeout, CorrectOption: ans.CorrectOption}, nil
	}

	correct := selected == ans.CorrectOption
	if !correct {
		if err := e.db.ResolveAttempt(attemptID, domain.AttemptDone, selected, false, domain.HarvestNone, nil, now); err != nil {
			return nil, err
		}
		observability.QuizAttemptsTotal.WithLabelValues("incorrect").Inc()
		return &SubmitResult{AttemptID: attemptID, Status: domain.AttemptDone, CorrectOption: ans.CorrectOption}, nil
	}

	windowExpiry := now.Add(e.ledger.Rules().WindowDuration)
	if err := e.db.ResolveAttempt(attemptID, domain.AttemptDone, selected, true, domain.HarvestInProgress, &windowExpiry, now); err != nil {
		return nil, err
	}
	observability.QuizAttemptsTotal.WithLabelValues("correct").Inc()

	res := &SubmitResult{
		AttemptID:     attemptID,
		IsCorrect:     true,
		Status:        domain.AttemptDone,
		CorrectOption: ans.CorrectOption,
	}

	// The reservation is the race: a correct answer only yields a window if
	// the position is still unclaimed.
	err = e.pool.TryReserve(attempt.PositionID, accountID, attemptID, windowExpiry)
	switch err {
	case nil:
		res.HarvestEnabled = true
		res.HarvestTimeoutAt = &windowExpiry
	case domain.ErrPositionNotAvailable:
		if err := e.db.SetHarvestStatus(attemptID, domain.HarvestFailure); err != nil {
			return nil, err
		}
		observability.HarvestRacesLost.Inc()
	default:
		return nil, err
	}
	return res, nil
}

// answerFor returns the scoring data for the attempt, from the cache when
// possible and the question bank otherwise.
func (e *Engine) answerFor(attempt *domain.QuizAttempt) (CachedAnswer, error) {
	if ans, ok := e.cache.Get(attempt.ID); ok && ans.QuestionID == attempt.QuestionID {
		return ans, nil
	}
	q, err := e.db.Question(attempt.QuestionID)
	if err != nil {
		return CachedAnswer{}, err
	}
	return CachedAnswer{QuestionID: q.ID, CorrectOption: q.CorrectOptionIdx, TimeLimit: q.TimeLimit}, nil
}

// Attempt loads an attempt owned by the account.
func (e *Engine) Attempt(accountID string, attemptID int64) (*domain.QuizAttempt, error) {
	attempt, err := e.db.Attempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.AccountID != accountID {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

// ─── Timeout Sweep ──────────────────────────────────────────────────────────

// StartSweep launches the stale-attempt sweep.
func (e *Engine) StartSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.ticker = time.NewTicker(e.cfg.SweepInterval)
	e.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.RunSweep(time.Now().UTC())
			case <-e.done:
				return
			}
		}
	}()
	log.Printf("[quiz] attempt sweep started (interval=%s)", e.cfg.SweepInterval)
}

// StopSweep halts the sweep.
func (e *Engine) StopSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.done)
}

// RunSweep times out attempts whose answer deadline has long passed.
func (e *Engine) RunSweep(now time.Time) {
	n, err := e.db.TimeoutStaleAttempts(e.cfg.MaxAnswerWindow, now)
	if err != nil {
		log.Printf("[quiz] attempt sweep failed: %v", err)
		return
	}
	if n > 0 {
		observability.QuizAttemptsTotal.WithLabelValues("timeout").Add(float64(n))
		log.Printf("[quiz] timed out %d stale attempts", n)
	}
}
