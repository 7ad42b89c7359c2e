package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/grovekit/grove/internal/domain"
)

type seedQuestion struct {
	question string
	options  []string
	correct  int
	category domain.QuestionCategory
}

var seedQuestionBank = []seedQuestion{
	{
		question: "Which data structure does a B-tree index keep its keys in?",
		options:  []string{"A hash table", "A sorted balanced tree", "A linked list", "A bloom filter"},
		correct:  1,
		category: domain.CategoryBasics,
	},
	{
		question: "What does ACID's 'I' stand for?",
		options:  []string{"Integrity", "Indexing", "Isolation", "Idempotency"},
		correct:  2,
		category: domain.CategoryBasics,
	},
	{
		question: "Which of these is a document-oriented database?",
		options:  []string{"MongoDB", "MySQL", "SQLite", "PostgreSQL"},
		correct:  0,
		category: domain.CategoryBasics,
	},
	{
		question: "Redis primarily stores data in which medium?",
		options:  []string{"Disk", "Memory", "Tape", "Object storage"},
		correct:  1,
		category: domain.CategoryBasics,
	},
	{
		question: "Which SQL clause filters rows after aggregation?",
		options:  []string{"WHERE", "GROUP BY", "HAVING", "ORDER BY"},
		correct:  2,
		category: domain.CategorySQL,
	},
	{
		question: "Which JOIN returns rows from both tables even without a match?",
		options:  []string{"INNER JOIN", "LEFT JOIN", "FULL OUTER JOIN", "CROSS JOIN"},
		correct:  2,
		category: domain.CategorySQL,
	},
	{
		question: "What does SELECT COUNT(*) count?",
		options:  []string{"Non-null values of the first column", "All rows", "Distinct rows", "Indexed rows"},
		correct:  1,
		category: domain.CategorySQL,
	},
	{
		question: "Which statement removes all rows but keeps the table?",
		options:  []string{"DROP TABLE", "DELETE CASCADE", "TRUNCATE TABLE", "ALTER TABLE"},
		correct:  2,
		category: domain.CategorySQL,
	},
	{
		question: "What is database normalization mainly for?",
		options:  []string{"Faster writes", "Reducing data redundancy", "Compressing storage", "Encrypting columns"},
		correct:  1,
		category: domain.CategoryDesign,
	},
	{
		question: "A foreign key enforces which property?",
		options:  []string{"Uniqueness", "Referential integrity", "Atomicity", "Durability"},
		correct:  1,
		category: domain.CategoryDesign,
	},
	{
		question: "Which pattern trades consistency for availability under partition?",
		options:  []string{"Two-phase commit", "Eventual consistency", "Serializable isolation", "Write-ahead logging"},
		correct:  1,
		category: domain.CategoryDesign,
	},
	{
		question: "Sharding splits data primarily to improve what?",
		options:  []string{"Horizontal scalability", "Referential integrity", "Backup speed", "Schema flexibility"},
		correct:  0,
		category: domain.CategoryDesign,
	},
}

// seedQuestions loads the built-in question bank once. Re-running migrations
// on an existing database is a no-op.
func (d *DB) seedQuestions() error {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, q := range seedQuestionBank {
		opts, err := json.Marshal(q.options)
		if err != nil {
			return err
		}
		if _, err := d.db.Exec(`
			INSERT INTO questions (question, options_json, correct_idx, category, time_limit, active)
			VALUES (?, ?, ?, ?, ?, 1)
		`, q.question, string(opts), q.correct, string(q.category), 15); err != nil {
			return err
		}
	}
	return nil
}

func scanQuestion(scan func(dest ...any) error) (*domain.Question, error) {
	var q domain.Question
	var optsJSON string
	var active int
	if err := scan(&q.ID, &q.Question, &optsJSON, &q.CorrectOptionIdx, &q.Category, &q.TimeLimit, &active); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(optsJSON), &q.Options); err != nil {
		return nil, err
	}
	q.Active = active != 0
	return &q, nil
}

// RandomActiveQuestion draws one active question at random.
func (d *DB) RandomActiveQuestion() (*domain.Question, error) {
	row := d.db.QueryRow(`
		SELECT id, question, options_json, correct_idx, category, time_limit, active
		FROM questions WHERE active = 1 ORDER BY RANDOM() LIMIT 1
	`)
	q, err := scanQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrQuestionBankEmpty
	}
	return q, err
}

// Question fetches a question by ID.
func (d *DB) Question(id int64) (*domain.Question, error) {
	row := d.db.QueryRow(`
		SELECT id, question, options_json, correct_idx, category, time_limit, active
		FROM questions WHERE id = ?
	`, id)
	q, err := scanQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrQuestionNotFound
	}
	return q, err
}

// ─── Attempts ───────────────────────────────────────────────────────────────

// CreateAttempt records a freshly issued quiz attempt and returns its ID.
func (d *DB) CreateAttempt(accountID string, positionID int, questionID int64, issuedAt time.Time) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO quiz_attempts (account_id, position_id, question_id, status, harvest_status, issued_at)
		VALUES (?, ?, ?, 'started', 'none', ?)
	`, accountID, positionID, questionID, fmtTime(issuedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Attempt loads an attempt by ID.
func (d *DB) Attempt(id int64) (*domain.QuizAttempt, error) {
	var a domain.QuizAttempt
	var isCorrect int
	var issued string
	var submitted, window sql.NullString
	err := d.db.QueryRow(`
		SELECT id, account_id, position_id, question_id, status, harvest_status,
		       is_correct, selected_option, issued_at, submitted_at, window_expires_at
		FROM quiz_attempts WHERE id = ?
	`, id).Scan(&a.ID, &a.AccountID, &a.PositionID, &a.QuestionID, &a.Status, &a.HarvestStatus,
		&isCorrect, &a.SelectedOption, &issued, &submitted, &window)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	a.IsCorrect = isCorrect != 0
	a.IssuedAt = parseTime(issued)
	a.SubmittedAt = parseTimePtr(submitted)
	a.WindowExpiresAt = parseTimePtr(window)
	return &a, nil
}

// HasOpenAttempt reports whether the account already has a live attempt for
// the position.
func (d *DB) HasOpenAttempt(accountID string, positionID int) (bool, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM quiz_attempts
		WHERE account_id = ? AND position_id = ? AND status = 'started'
	`, accountID, positionID).Scan(&n)
	return n > 0, err
}

// ResolveAttempt finishes an attempt with its answer outcome. The status
// guard makes the transition happen at most once; a second call reports
// ErrAttemptAlreadyTerminal.
func (d *DB) ResolveAttempt(id int64, status domain.AttemptStatus, selected int, correct bool, harvestStatus domain.HarvestStatus, windowExpiresAt *time.Time, now time.Time) error {
	res, err := d.db.Exec(`
		UPDATE quiz_attempts
		SET status = ?, selected_option = ?, is_correct = ?, harvest_status = ?,
		    submitted_at = ?, window_expires_at = ?
		WHERE id = ? AND status = 'started'
	`, string(status), selected, boolToInt(correct), string(harvestStatus),
		fmtTime(now), fmtTimePtr(windowExpiresAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAttemptAlreadyTerminal
	}
	return nil
}

// SetHarvestStatus updates only the harvest outcome of an attempt.
func (d *DB) SetHarvestStatus(id int64, hs domain.HarvestStatus) error {
	_, err := d.db.Exec(`UPDATE quiz_attempts SET harvest_status = ? WHERE id = ?`, string(hs), id)
	return err
}

// TimeoutStaleAttempts closes started attempts whose answer deadline has
// passed. Returns how many were closed.
func (d *DB) TimeoutStaleAttempts(limit time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-limit)
	res, err := d.db.Exec(`
		UPDATE quiz_attempts SET status = 'timeout', submitted_at = ?
		WHERE status = 'started' AND issued_at <= ?
	`, fmtTime(now), fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
