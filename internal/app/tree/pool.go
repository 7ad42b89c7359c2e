// Package tree manages the shared lemon tree: the fixed pool of harvest
// positions, exclusive window reservations, and the background sweep that
// regrows harvested positions and reclaims expired windows.
package tree

import (
	"log"
	"sync"
	"time"

	"github.com/grovekit/grove/internal/domain"
	"github.com/grovekit/grove/internal/infra/observability"
	"github.com/grovekit/grove/internal/infra/sqlite"
)

// Config controls pool behavior.
type Config struct {
	Rules         domain.RegrowthRules
	SweepInterval time.Duration // regrowth + expired-window sweep cadence
}

// DefaultConfig returns the production pool policy.
func DefaultConfig() Config {
	return Config{
		Rules:         domain.DefaultRegrowthRules(),
		SweepInterval: time.Minute,
	}
}

// Pool owns the tree positions.
type Pool struct {
	cfg Config
	db  *sqlite.DB

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	running bool
}

// New creates the pool and seeds any missing position rows.
func New(cfg Config, db *sqlite.DB) (*Pool, error) {
	if err := db.SeedPositions(cfg.Rules.MaxPositions, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &Pool{cfg: cfg, db: db}, nil
}

// Status returns the public tree snapshot.
func (p *Pool) Status() (*domain.TreeStatus, error) {
	positions, err := p.db.Positions()
	if err != nil {
		return nil, err
	}
	st := &domain.TreeStatus{AvailablePositions: []int{}}
	for _, pos := range positions {
		if pos.State == domain.PositionAvailable {
			st.AvailablePositions = append(st.AvailablePositions, pos.PositionID)
		}
	}
	observability.PositionsAvailable.Set(float64(len(st.AvailablePositions)))

	if st.TotalHarvested, err = p.db.TotalHarvested(); err != nil {
		return nil, err
	}
	if st.NextRegrowthTime, err = p.db.NextRegrowthTime(); err != nil {
		return nil, err
	}
	return st, nil
}

// Positions returns every position row.
func (p *Pool) Positions() ([]*domain.LemonPosition, error) {
	return p.db.Positions()
}

// IsAvailable reports whether the position can currently be contested.
func (p *Pool) IsAvailable(positionID int) (bool, error) {
	if positionID < 0 || positionID >= p.cfg.Rules.MaxPositions {
		return false, nil
	}
	pos, err := p.db.Position(positionID)
	if err != nil {
		return false, err
	}
	return pos.State == domain.PositionAvailable, nil
}

// TryReserve claims the position for one attempt's harvest window. At most
// one concurrent caller succeeds; the rest see ErrPositionNotAvailable.
func (p *Pool) TryReserve(positionID int, accountID string, attemptID int64, windowExpiresAt time.Time) error {
	return p.db.TryReservePosition(positionID, accountID, attemptID, windowExpiresAt)
}

// Release returns an unharvested reservation to the available pool.
func (p *Pool) Release(positionID int, attemptID int64) error {
	return p.db.ReturnPosition(positionID, attemptID)
}

// Rules exposes the regrowth policy in effect.
func (p *Pool) Rules() domain.RegrowthRules { return p.cfg.Rules }

// ─── Background Sweep ───────────────────────────────────────────────────────

// Start launches the periodic sweep. Safe to call once.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.ticker = time.NewTicker(p.cfg.SweepInterval)
	p.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-p.ticker.C:
				p.RunSweep(time.Now().UTC())
			case <-p.done:
				return
			}
		}
	}()
	log.Printf("[tree] sweep started (interval=%s, positions=%d)", p.cfg.SweepInterval, p.cfg.Rules.MaxPositions)
}

// Stop halts the sweep.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.ticker.Stop()
	close(p.done)
}

// RunSweep reclaims expired harvest windows and regrows due positions.
// Exposed for tests and the ticker alike.
func (p *Pool) RunSweep(now time.Time) {
	expired, err := p.db.ReleaseExpiredWindows(now)
	if err != nil {
		log.Printf("[tree] expired-window sweep failed: %v", err)
	} else if len(expired) > 0 {
		for range expired {
			observability.HarvestsTotal.WithLabelValues("window_timeout").Inc()
		}
		log.Printf("[tree] released %d expired harvest windows", len(expired))
	}

	regrown, err := p.db.RegrowDuePositions(now)
	if err != nil {
		log.Printf("[tree] regrowth sweep failed: %v", err)
	} else if len(regrown) > 0 {
		observability.PositionsRegrown.Add(float64(len(regrown)))
		log.Printf("[tree] regrew %d positions: %v", len(regrown), regrown)
	}
}
