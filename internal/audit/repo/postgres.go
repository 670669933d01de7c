package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
)

const entryColumns = `id, actor_id, action, entity_type, entity_id, metadata, created_at`

// PostgresRepo appends and reads audit entries. It exposes no update or delete.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureTable creates the audit_entries table, its indexes and a trigger that
// rejects UPDATE and DELETE so the table stays append-only even for ad-hoc SQL.
func (r *PostgresRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_entries (
  id varchar(32) PRIMARY KEY,
  actor_id varchar(32) NOT NULL,
  action TEXT NOT NULL,
  entity_type TEXT,
  entity_id varchar(32),
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_entries_entity ON audit_entries(entity_type, entity_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_created ON audit_entries(created_at DESC);
CREATE OR REPLACE FUNCTION audit_entries_immutable() RETURNS trigger AS $$
BEGIN
  RAISE EXCEPTION 'audit_entries is append-only';
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS trg_audit_entries_immutable ON audit_entries;
CREATE TRIGGER trg_audit_entries_immutable BEFORE UPDATE OR DELETE ON audit_entries
  FOR EACH ROW EXECUTE FUNCTION audit_entries_immutable();
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Insert appends one entry; created_at comes from the caller so ordering
// matches the KSUID embedded in the id.
func (r *PostgresRepo) Insert(ctx context.Context, e *entity.Entry) error {
	const q = `INSERT INTO audit_entries (id, actor_id, action, entity_type, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, []byte(e.Metadata), e.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ByActor returns the newest entries written by actorID.
func (r *PostgresRepo) ByActor(ctx context.Context, actorID string, limit int) ([]*entity.Entry, error) {
	const q = `SELECT ` + entryColumns + ` FROM audit_entries WHERE actor_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return r.selectEntries(ctx, q, actorID, limit)
}

// ByEntity returns the full history of one entity, oldest first.
func (r *PostgresRepo) ByEntity(ctx context.Context, entityType, entityID string) ([]*entity.Entry, error) {
	const q = `SELECT ` + entryColumns + ` FROM audit_entries WHERE entity_type=$1 AND entity_id=$2 ORDER BY created_at, id`
	return r.selectEntries(ctx, q, entityType, entityID)
}

// Recent returns the newest entries across all actors.
func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]*entity.Entry, error) {
	const q = `SELECT ` + entryColumns + ` FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT $1`
	return r.selectEntries(ctx, q, limit)
}

// Between returns entries with from <= created_at < to, newest first.
func (r *PostgresRepo) Between(ctx context.Context, from, to time.Time, limit int) ([]*entity.Entry, error) {
	const q = `SELECT ` + entryColumns + ` FROM audit_entries WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3`
	return r.selectEntries(ctx, q, from, to, limit)
}

func (r *PostgresRepo) selectEntries(ctx context.Context, q string, args ...any) ([]*entity.Entry, error) {
	out := []*entity.Entry{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
