package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
)

// MemoryRepo keeps audit entries in insertion order, which is also
// chronological since entries are stamped just before Insert.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []*entity.Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) EnsureTable(context.Context) error { return nil }

func (r *MemoryRepo) Insert(_ context.Context, e *entity.Entry) error {
	cp := *e
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepo) ByActor(_ context.Context, actorID string, limit int) ([]*entity.Entry, error) {
	return r.newest(limit, func(e *entity.Entry) bool { return e.ActorID == actorID }), nil
}

func (r *MemoryRepo) ByEntity(_ context.Context, entityType, entityID string) ([]*entity.Entry, error) {
	return r.filter(func(e *entity.Entry) bool {
		return e.EntityType != nil && e.EntityID != nil && *e.EntityType == entityType && *e.EntityID == entityID
	}), nil
}

func (r *MemoryRepo) Recent(_ context.Context, limit int) ([]*entity.Entry, error) {
	return r.newest(limit, func(*entity.Entry) bool { return true }), nil
}

func (r *MemoryRepo) Between(_ context.Context, from, to time.Time, limit int) ([]*entity.Entry, error) {
	return r.newest(limit, func(e *entity.Entry) bool {
		return !e.CreatedAt.Before(from) && e.CreatedAt.Before(to)
	}), nil
}

func (r *MemoryRepo) newest(limit int, keep func(*entity.Entry) bool) []*entity.Entry {
	out := r.filter(keep)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryRepo) filter(keep func(*entity.Entry) bool) []*entity.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*entity.Entry{}
	for _, e := range r.entries {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
