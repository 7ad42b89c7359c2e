package domain

import "time"

// ─── Quiz Types ─────────────────────────────────────────────────────────────
// Each harvest is gated by a one-question quiz. An attempt is Started, then
// becomes terminal exactly once: Done (scored) or Timeout (swept). A correct,
// in-time answer opens the short harvest window tracked by HarvestStatus.

// AttemptStatus is the quiz half of an attempt's state machine.
type AttemptStatus string

const (
	AttemptStarted AttemptStatus = "started"
	AttemptDone    AttemptStatus = "done"    // answered; correctness in IsCorrect
	AttemptTimeout AttemptStatus = "timeout" // never answered in time
)

// Terminal reports whether the status can no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptDone || s == AttemptTimeout
}

// HarvestStatus tracks the click window that follows a correct answer.
type HarvestStatus string

const (
	HarvestNone       HarvestStatus = "none"        // not at the harvest stage
	HarvestInProgress HarvestStatus = "in_progress" // window open, click pending
	HarvestSuccess    HarvestStatus = "success"
	HarvestTimeout    HarvestStatus = "timeout" // window expired unclicked
	HarvestFailure    HarvestStatus = "failure" // someone else took the lemon
)

// QuestionCategory classifies bank questions.
type QuestionCategory string

const (
	CategoryBasics QuestionCategory = "basics"
	CategorySQL    QuestionCategory = "sql"
	CategoryDesign QuestionCategory = "design"
)

// Question is one entry in the quiz bank. The correct option index is never
// serialized to clients.
type Question struct {
	ID               int64            `json:"id"`
	Question         string           `json:"question"`
	Options          []string         `json:"options"`
	CorrectOptionIdx int              `json:"-"`
	Category         QuestionCategory `json:"category"`
	TimeLimit        int              `json:"timeLimit"` // seconds
	Active           bool             `json:"-"`
}

// CheckAnswer reports whether the given option index is the correct one.
func (q *Question) CheckAnswer(optionIdx int) bool {
	return optionIdx == q.CorrectOptionIdx
}

// QuizAttempt records one account's run at one position.
type QuizAttempt struct {
	ID              int64         `json:"attemptId"`
	AccountID       string        `json:"accountId"`
	PositionID      int           `json:"positionId"`
	QuestionID      int64         `json:"questionId"`
	Status          AttemptStatus `json:"status"`
	HarvestStatus   HarvestStatus `json:"harvestStatus"`
	IsCorrect       bool          `json:"isCorrect"`
	SelectedOption  int           `json:"selectedOption"`
	IssuedAt        time.Time     `json:"issuedAt"`
	SubmittedAt     *time.Time    `json:"submittedAt,omitempty"`
	WindowExpiresAt *time.Time    `json:"harvestWindowExpiresAt,omitempty"`
}
