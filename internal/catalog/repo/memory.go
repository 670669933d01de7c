package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/entity"
)

// MemoryRepo is an in-process problem catalog.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[string]*entity.Problem
	now  func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]*entity.Problem), now: func() time.Time { return time.Now().UTC() }}
}

func (r *MemoryRepo) EnsureTable(context.Context) error { return nil }

func (r *MemoryRepo) Create(_ context.Context, p *entity.Problem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.rows[p.ID] = &cp
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*entity.Problem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*entity.Problem, error) {
	r.mu.RLock()
	out := []*entity.Problem{}
	for _, p := range r.rows {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if offset >= len(out) {
		return []*entity.Problem{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(_ context.Context, p *entity.Problem, expected int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[p.ID]
	if !ok || cur.Version != expected {
		return 0, nil
	}
	cur.Title, cur.Difficulty, cur.Version, cur.UpdatedAt = p.Title, p.Difficulty, p.Version, p.UpdatedAt
	return 1, nil
}

func (r *MemoryRepo) Retire(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[id]
	if !ok || !cur.Active {
		return 0, nil
	}
	cur.Active = false
	cur.Version++
	cur.UpdatedAt = r.now()
	return 1, nil
}

func (r *MemoryRepo) ActiveAmong(_ context.Context, ids []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{}
	for _, id := range ids {
		if p, ok := r.rows[id]; ok && p.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountActive(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.rows {
		if p.Active {
			n++
		}
	}
	return n, nil
}
