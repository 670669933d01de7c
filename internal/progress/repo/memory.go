package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
)

type pairKey struct{ account, problem string }

// MemoryRepo keeps records in a map keyed by (account, problem). Every
// mutation runs under one lock, which gives Upsert the same single-row
// atomicity the Postgres conflict clause provides.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[pairKey]*entity.Record
	now  func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[pairKey]*entity.Record), now: func() time.Time { return time.Now().UTC() }}
}

func (r *MemoryRepo) EnsureTable(context.Context) error { return nil }

func (r *MemoryRepo) Upsert(_ context.Context, rec *entity.Record) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{rec.AccountID, rec.ProblemID}
	now := r.now()
	cur, ok := r.rows[k]
	if !ok {
		cp := *rec
		cp.CreatedAt, cp.UpdatedAt = now, now
		r.rows[k] = &cp
		out := cp
		return &out, nil
	}
	cur.Status = rec.Status
	cur.CompletedAt = rec.CompletedAt
	cur.UpdatedAt = now
	out := *cur
	return &out, nil
}

func (r *MemoryRepo) Reset(_ context.Context, accountID, problemID string) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[pairKey{accountID, problemID}]
	if !ok {
		return nil, nil
	}
	cur.Status = entity.StatusNotStarted
	cur.CompletedAt = nil
	cur.UpdatedAt = r.now()
	out := *cur
	return &out, nil
}

func (r *MemoryRepo) Insert(_ context.Context, rec *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := pairKey{rec.AccountID, rec.ProblemID}
	if _, ok := r.rows[k]; ok {
		return ErrConflict
	}
	now := r.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	r.rows[k] = &cp
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, accountID, problemID string) (*entity.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.rows[pairKey{accountID, problemID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

func (r *MemoryRepo) ListByAccount(_ context.Context, accountID string, status entity.Status) ([]*entity.Record, error) {
	r.mu.RLock()
	out := []*entity.Record{}
	for k, rec := range r.rows {
		if k.account != accountID || (status != "" && rec.Status != status) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) CompletedProblems(_ context.Context, accountID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for k, rec := range r.rows {
		if k.account == accountID && rec.Status == entity.StatusCompleted {
			out = append(out, k.problem)
		}
	}
	return out, nil
}

// Len is the total number of records, used by tests to check uniqueness.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
