package entity

import "time"

// Difficulty of a problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Problem is a catalog item progress is tracked against. Deleting a problem
// retires it (Active=false) so existing progress rows keep a valid reference.
type Problem struct {
	ID         string     `db:"id" json:"id"`
	Title      string     `db:"title" json:"title"`
	Difficulty Difficulty `db:"difficulty" json:"difficulty"`
	Active     bool       `db:"active" json:"active"`
	Version    int64      `db:"version" json:"version"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
