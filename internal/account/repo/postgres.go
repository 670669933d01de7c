package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/database"
)

const accountColumns = `id, name, email, password_hash, role, active, last_login_at, created_at, updated_at`

// PostgresRepo provides data access for the accounts table using sqlx.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureTable creates the accounts table if not exists (idempotent).
// email is citext so the unique constraint is case-insensitive at the store level.
func (r *PostgresRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id varchar(32) PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  email CITEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'standard' CHECK (role IN ('standard', 'elevated')),
  active BOOLEAN NOT NULL DEFAULT true,
  last_login_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts(role);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new account row and fills in the store timestamps.
func (r *PostgresRepo) Create(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (id, name, email, password_hash, role, active)
		VALUES (:id, :name, :email, :password_hash, :role, :active) RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, a)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("db error: %w", err)
		}
		return errors.New("no row returned")
	}
	return rows.Scan(&a.CreatedAt, &a.UpdatedAt)
}

// GetByID fetches a full account row.
func (r *PostgresRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
}

// GetByEmail returns an account matched by email (case-insensitive due to citext).
func (r *PostgresRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, email)
}

// List returns accounts ordered by creation time.
func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id LIMIT $1 OFFSET $2`
	var out []*entity.Account
	if err := r.db.SelectContext(ctx, &out, q, limit, offset); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// UpdateRole sets the role and returns the updated row.
func (r *PostgresRepo) UpdateRole(ctx context.Context, id string, role entity.Role) (*entity.Account, error) {
	const q = `UPDATE accounts SET role=$2, updated_at=NOW() WHERE id=$1 AND role <> $2 RETURNING ` + accountColumns
	return r.transition(ctx, q, id, role)
}

// SetActive activates or deactivates an account and returns the updated row.
func (r *PostgresRepo) SetActive(ctx context.Context, id string, active bool) (*entity.Account, error) {
	const q = `UPDATE accounts SET active=$2, updated_at=NOW() WHERE id=$1 AND active <> $2 RETURNING ` + accountColumns
	return r.transition(ctx, q, id, active)
}

// UpdatePassword replaces the stored password hash.
func (r *PostgresRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	const q = `UPDATE accounts SET password_hash=$2, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, q, id, hash)
}

// TouchLogin records a successful authentication.
func (r *PostgresRepo) TouchLogin(ctx context.Context, id string) error {
	const q = `UPDATE accounts SET last_login_at=NOW() WHERE id=$1`
	return r.execOne(ctx, q, id)
}

// ExistsWithRole reports whether at least one account holds role.
func (r *PostgresRepo) ExistsWithRole(ctx context.Context, role entity.Role) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM accounts WHERE role=$1)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, role); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepo) getOne(ctx context.Context, q string, args ...any) (*entity.Account, error) {
	var a entity.Account
	if err := r.db.GetContext(ctx, &a, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &a, nil
}

// transition runs a conditional UPDATE. When no row matched it tells a missing
// account apart from one that already held the value.
func (r *PostgresRepo) transition(ctx context.Context, q, id string, value any) (*entity.Account, error) {
	a, err := r.getOne(ctx, q, id, value)
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrUnchanged
}

func (r *PostgresRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
