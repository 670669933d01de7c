package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
)

// MemoryRepo is an in-process account store used with STORE_DRIVER=memory and in tests.
// It enforces the same email uniqueness as the citext column.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]*entity.Account
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:    make(map[string]*entity.Account),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) EnsureTable(context.Context) error { return nil }

func (r *MemoryRepo) Create(_ context.Context, a *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entity.NormalizeEmail(a.Email)
	if _, ok := r.byEmail[key]; ok {
		return ErrEmailTaken
	}
	now := r.now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	r.byID[a.ID] = &cp
	r.byEmail[key] = a.ID
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*entity.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[entity.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) List(_ context.Context, limit, offset int) ([]*entity.Account, error) {
	r.mu.RLock()
	all := make([]*entity.Account, 0, len(r.byID))
	for _, a := range r.byID {
		cp := *a
		all = append(all, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*entity.Account{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepo) UpdateRole(_ context.Context, id string, role entity.Role) (*entity.Account, error) {
	return r.transition(id, func(a *entity.Account) bool {
		if a.Role == role {
			return false
		}
		a.Role = role
		return true
	})
}

func (r *MemoryRepo) SetActive(_ context.Context, id string, active bool) (*entity.Account, error) {
	return r.transition(id, func(a *entity.Account) bool {
		if a.Active == active {
			return false
		}
		a.Active = active
		return true
	})
}

func (r *MemoryRepo) UpdatePassword(_ context.Context, id, hash string) error {
	_, err := r.mutate(id, func(a *entity.Account) { a.PasswordHash = hash })
	return err
}

func (r *MemoryRepo) TouchLogin(_ context.Context, id string) error {
	now := r.now()
	_, err := r.mutate(id, func(a *entity.Account) { a.LastLoginAt = &now })
	return err
}

func (r *MemoryRepo) ExistsWithRole(_ context.Context, role entity.Role) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Role == role {
			return true, nil
		}
	}
	return false, nil
}

// transition applies fn under the lock; fn reports whether it changed anything.
func (r *MemoryRepo) transition(id string, fn func(*entity.Account) bool) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !fn(a) {
		return nil, ErrUnchanged
	}
	a.UpdatedAt = r.now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepo) mutate(id string, fn func(*entity.Account)) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(a)
	a.UpdatedAt = r.now()
	cp := *a
	return &cp, nil
}
