package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. The API layer maps
// each sentinel to a stable HTTP status and error code; anything else is a 500.

var (
	// Ledger errors
	ErrInsufficientBalance = errors.New("insufficient lemon balance")
	ErrStorageFull         = errors.New("lemon storage limit reached")
	ErrAccountNotFound     = errors.New("account not found")

	// Tree / position errors
	ErrPositionNotAvailable = errors.New("position is not available for harvest")
	ErrAlreadyHarvested     = errors.New("position was already harvested")

	// Quiz errors
	ErrAlreadyAttempting      = errors.New("an attempt for this position is already in progress")
	ErrCooldownActive         = errors.New("harvest cooldown is active")
	ErrAttemptNotFound        = errors.New("quiz attempt not found")
	ErrAttemptAlreadyTerminal = errors.New("quiz attempt is already resolved")
	ErrQuestionBankEmpty      = errors.New("question bank has no active questions")
	ErrQuestionNotFound       = errors.New("question not found")

	// Harvest errors
	ErrWindowExpired = errors.New("harvest window expired")
	ErrNotReserver   = errors.New("caller does not hold the position reservation")

	// Instance errors
	ErrOwnerQuotaExceeded   = errors.New("instance quota exceeded for account")
	ErrInsufficientCapacity = errors.New("insufficient cluster capacity")
	ErrNotOwner             = errors.New("account does not own this instance")
	ErrInstanceNotFound     = errors.New("instance not found")
	ErrInvalidTransition    = errors.New("invalid instance status transition")
	ErrInstanceNameConflict = errors.New("instance name already in use")
	ErrPresetNotFound       = errors.New("preset not found")
	ErrInvalidInstanceSpec  = errors.New("invalid instance specification")
)
