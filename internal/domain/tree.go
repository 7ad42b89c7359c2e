package domain

import "time"

// ─── Lemon Tree Types ───────────────────────────────────────────────────────
// The tree has a fixed number of harvest positions shared by every account.
// A position cycles Growing → Available → Reserved → Growing. Reservations
// are exclusive: winning the race for a position is what makes a harvest.

// PositionState is the lifecycle state of a tree position.
type PositionState string

const (
	PositionEmpty     PositionState = "empty"     // seeded, never grown
	PositionGrowing   PositionState = "growing"   // regrowing after a harvest
	PositionAvailable PositionState = "available" // ready to be contested
	PositionReserved  PositionState = "reserved"  // held by one open harvest window
)

// LemonPosition is one harvest slot on the shared tree.
type LemonPosition struct {
	PositionID     int           `json:"positionId"`
	State          PositionState `json:"state"`
	AvailableSince *time.Time    `json:"availableSince,omitempty"`
	NextRegrowthAt *time.Time    `json:"nextRegrowthAt,omitempty"`

	// Reservation bookkeeping; only meaningful while Reserved.
	ReservedBy      string     `json:"-"`
	ReservedAttempt int64      `json:"-"`
	WindowExpiresAt *time.Time `json:"-"`
}

// RegrowthRules holds the tunable tree regrowth policy.
type RegrowthRules struct {
	MaxPositions   int           // fixed slot count on the tree
	RegrowDuration time.Duration // Growing → Available delay after a harvest
}

// DefaultRegrowthRules returns the production tree policy.
func DefaultRegrowthRules() RegrowthRules {
	return RegrowthRules{
		MaxPositions:   10,
		RegrowDuration: 6 * time.Hour,
	}
}

// TreeStatus is the public snapshot of the shared tree.
type TreeStatus struct {
	AvailablePositions []int      `json:"availablePositions"`
	TotalHarvested     int64      `json:"totalHarvested"`
	NextRegrowthTime   *time.Time `json:"nextRegrowthTime,omitempty"`
}
