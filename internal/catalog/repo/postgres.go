package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/entity"
)

const problemColumns = `id, title, difficulty, active, version, created_at, updated_at`

// PostgresRepo is the problem catalog backed by PostgreSQL.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureTable ensures the problems table and its index exist.
func (r *PostgresRepo) EnsureTable(ctx context.Context) error {
	// Check if table exists using to_regclass (Postgres). If it exists, skip creation.
	var tblName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.problems')").Scan(&tblName); err != nil {
		return err
	}
	if !tblName.Valid {
		const createTable = `CREATE TABLE problems (
			id varchar(32) PRIMARY KEY,
			title TEXT NOT NULL,
			difficulty TEXT NOT NULL DEFAULT 'easy' CHECK (difficulty IN ('easy', 'medium', 'hard')),
			active BOOLEAN NOT NULL DEFAULT true,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
		if _, err := r.db.ExecContext(ctx, createTable); err != nil {
			return err
		}
	}

	var idxName sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT to_regclass('public.idx_problems_active')").Scan(&idxName); err != nil {
		return err
	}
	if !idxName.Valid {
		if _, err := r.db.ExecContext(ctx, `CREATE INDEX idx_problems_active ON problems (active)`); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a problem and fills in the store timestamps.
func (r *PostgresRepo) Create(ctx context.Context, p *entity.Problem) error {
	const q = `INSERT INTO problems (id, title, difficulty, active, version)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`
	if err := r.db.QueryRowxContext(ctx, q, p.ID, p.Title, p.Difficulty, p.Active, p.Version).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a problem by id, active or not.
func (r *PostgresRepo) GetByID(ctx context.Context, id string) (*entity.Problem, error) {
	var p entity.Problem
	if err := r.db.GetContext(ctx, &p, `SELECT `+problemColumns+` FROM problems WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &p, nil
}

// List returns problems ordered by creation, optionally only active ones.
func (r *PostgresRepo) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.Problem, error) {
	q := `SELECT ` + problemColumns + ` FROM problems`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY created_at, id LIMIT $1 OFFSET $2`
	out := []*entity.Problem{}
	if err := r.db.SelectContext(ctx, &out, q, limit, offset); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Update writes title/difficulty when the stored version still equals expected.
// Zero rows means the version moved on (or the row vanished).
func (r *PostgresRepo) Update(ctx context.Context, p *entity.Problem, expected int64) (int64, error) {
	const q = `UPDATE problems SET title=$2, difficulty=$3, version=$4, updated_at=$5 WHERE id=$1 AND version=$6`
	res, err := r.db.ExecContext(ctx, q, p.ID, p.Title, p.Difficulty, p.Version, p.UpdatedAt, expected)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// Retire marks an active problem inactive and returns affected rows.
func (r *PostgresRepo) Retire(ctx context.Context, id string) (int64, error) {
	const q = `UPDATE problems SET active=false, version=version+1, updated_at=NOW() WHERE id=$1 AND active`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

// ActiveAmong returns the subset of ids that exist and are active.
func (r *PostgresRepo) ActiveAmong(ctx context.Context, ids []string) ([]string, error) {
	out := []string{}
	if len(ids) == 0 {
		return out, nil
	}
	const q = `SELECT id FROM problems WHERE id = ANY($1) AND active`
	if err := r.db.SelectContext(ctx, &out, q, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// CountActive returns the number of active problems.
func (r *PostgresRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM problems WHERE active`); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
