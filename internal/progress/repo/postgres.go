package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/database"
)

const recordColumns = `id, account_id, problem_id, status, completed_at, created_at, updated_at`

// PostgresRepo stores progress records. Uniqueness of (account_id, problem_id)
// is enforced by the table, never by application locks.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS progress_records (
  id varchar(32) PRIMARY KEY,
  account_id varchar(32) NOT NULL,
  problem_id varchar(32) NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('not_started', 'completed')),
  completed_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT uq_progress_account_problem UNIQUE (account_id, problem_id),
  CONSTRAINT ck_progress_completed_at CHECK ((status = 'completed') = (completed_at IS NOT NULL))
);
CREATE INDEX IF NOT EXISTS idx_progress_account_status ON progress_records(account_id, status);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Upsert writes status and completed_at for the pair in one statement. On
// conflict the existing row keeps its id and created_at.
func (r *PostgresRepo) Upsert(ctx context.Context, rec *entity.Record) (*entity.Record, error) {
	const q = `INSERT INTO progress_records (id, account_id, problem_id, status, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, problem_id) DO UPDATE
		SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, updated_at = NOW()
		RETURNING ` + recordColumns
	var out entity.Record
	if err := r.db.GetContext(ctx, &out, q, rec.ID, rec.AccountID, rec.ProblemID, rec.Status, rec.CompletedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}

// Reset moves an existing record back to not_started. It returns nil when
// the pair has no record; nothing is created in that case.
func (r *PostgresRepo) Reset(ctx context.Context, accountID, problemID string) (*entity.Record, error) {
	const q = `UPDATE progress_records SET status = 'not_started', completed_at = NULL, updated_at = NOW()
		WHERE account_id = $1 AND problem_id = $2 RETURNING ` + recordColumns
	var out entity.Record
	if err := r.db.GetContext(ctx, &out, q, accountID, problemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}

// Insert creates a record without the conflict clause. A second insert for the
// same pair fails with ErrConflict.
func (r *PostgresRepo) Insert(ctx context.Context, rec *entity.Record) error {
	const q = `INSERT INTO progress_records (id, account_id, problem_id, status, completed_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, q, rec.ID, rec.AccountID, rec.ProblemID, rec.Status, rec.CompletedAt).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, accountID, problemID string) (*entity.Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM progress_records WHERE account_id = $1 AND problem_id = $2`
	var out entity.Record
	if err := r.db.GetContext(ctx, &out, q, accountID, problemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}

// ListByAccount returns the account's records, most recently touched first.
// An empty status means every status.
func (r *PostgresRepo) ListByAccount(ctx context.Context, accountID string, status entity.Status) ([]*entity.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM progress_records WHERE account_id = $1`
	args := []any{accountID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC, id`
	out := []*entity.Record{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// CompletedProblems returns the ids of every problem the account has completed.
func (r *PostgresRepo) CompletedProblems(ctx context.Context, accountID string) ([]string, error) {
	const q = `SELECT problem_id FROM progress_records WHERE account_id = $1 AND status = $2`
	out := []string{}
	if err := r.db.SelectContext(ctx, &out, q, accountID, entity.StatusCompleted); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
