package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────
// Lemons are the credit currency. Every balance change is an immutable
// transaction row carrying the balance after the change, so the ledger forms
// an auditable chain: balance == totalEarned − totalSpent at all times.

// ActionType is the business reason for a ledger entry.
type ActionType string

const (
	ActionWelcomeBonus         ActionType = "welcome_bonus"
	ActionHarvest              ActionType = "harvest"
	ActionInstanceCreate       ActionType = "instance_create"
	ActionInstanceMaintain     ActionType = "instance_maintain"
	ActionInstanceCreateRefund ActionType = "instance_create_refund"
)

// Transaction is a single row in the lemon ledger. Immutable once written.
type Transaction struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"accountId"`
	InstanceID   *string    `json:"instanceId,omitempty"`
	ActionType   ActionType `json:"actionType"`
	Amount       int64      `json:"amount"` // signed; debits are negative
	BalanceAfter int64      `json:"balanceAfter"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Account is a lemon holder. The balance is only ever mutated through
// ledger transactions, never directly.
type Account struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	LemonBalance  int64      `json:"lemonBalance"`
	TotalEarned   int64      `json:"totalEarned"`
	TotalSpent    int64      `json:"totalSpent"`
	LastHarvestAt *time.Time `json:"lastHarvestAt,omitempty"`
	JoinedAt      time.Time  `json:"joinedAt"`
}

// ─── Harvest Policy ─────────────────────────────────────────────────────────

// HarvestRules holds the tunable harvest economics.
type HarvestRules struct {
	BaseAmount      int64         // lemons credited per harvest
	WelcomeBonus    int64         // lemons granted on first login
	CooldownPeriod  time.Duration // per-account wait between harvests
	MaxStoredLemons int64         // hard cap on an account balance
	WindowDuration  time.Duration // click window after a correct answer
}

// DefaultHarvestRules returns the production harvest policy.
func DefaultHarvestRules() HarvestRules {
	return HarvestRules{
		BaseAmount:      5,
		WelcomeBonus:    30,
		CooldownPeriod:  6 * time.Hour,
		MaxStoredLemons: 500,
		WindowDuration:  5 * time.Second,
	}
}
