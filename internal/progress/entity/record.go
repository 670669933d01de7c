package entity

import "time"

// Status of one account's work on one problem.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusNotStarted || s == StatusCompleted
}

// Record is the single ledger row for an (account, problem) pair.
// CompletedAt is set exactly when Status is completed.
type Record struct {
	ID          string     `db:"id" json:"id"`
	AccountID   string     `db:"account_id" json:"account_id"`
	ProblemID   string     `db:"problem_id" json:"problem_id"`
	Status      Status     `db:"status" json:"status"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Summary aggregates an account's ledger against the active catalog.
type Summary struct {
	Completed   int `json:"completed"`
	NotStarted  int `json:"not_started"`
	TotalActive int `json:"total_active"`
}
