package account

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
	auditrepo "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/token"
)

type fixture struct {
	svc    *Service
	store  *repo.MemoryRepo
	audit  *audit.Service
	tokens *token.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := token.NewService(token.Config{Secret: "test-secret", ExpiresIn: "1h"})
	require.NoError(t, err)
	store := repo.NewMemoryRepo()
	auditSvc := audit.NewService(auditrepo.NewMemoryRepo(), nil, nil)
	svc := NewService(store, BcryptHasher{Cost: bcrypt.MinCost}, tokens, auditSvc, nil)
	return &fixture{svc: svc, store: store, audit: auditSvc, tokens: tokens}
}

func (f *fixture) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), "Test User", email, "correct-horse")
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "  Alice@Example.COM ")

	assert.Equal(t, "alice@example.com", res.Account.Email)
	assert.Equal(t, entity.RoleStandard, res.Account.Role)
	assert.True(t, res.Account.Active)

	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, claims.AccountID)

	stored, err := f.store.GetByID(context.Background(), res.Account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "correct-horse", stored.PasswordHash)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string][3]string{
		"bad email":      {"n", "not-an-email", "correct-horse"},
		"short password": {"n", "a@example.com", "short"},
		"long password":  {"n", "a@example.com", string(make([]byte, 73))},
		"missing name":   {" ", "a@example.com", "correct-horse"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, in[0], in[1], in[2])
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegister_DuplicateEmailIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob@example.com")
	_, err := f.svc.Register(context.Background(), "Bob", "BOB@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "carol@example.com")
	ctx := context.Background()

	res, err := f.svc.Login(ctx, "CAROL@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, res.Account.ID)
	assert.NotEmpty(t, res.Token)

	stored, err := f.store.GetByID(ctx, reg.Account.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = f.svc.Login(ctx, "carol@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

// countingHasher records how many hashes were compared.
type countingHasher struct {
	BcryptHasher
	verified int
	rehash   bool
}

func (h *countingHasher) Verify(hash, pw string) bool {
	h.verified++
	return h.BcryptHasher.Verify(hash, pw)
}

func (h *countingHasher) NeedsRehash(string) bool { return h.rehash }

func TestLogin_UnknownEmailStillComparesHash(t *testing.T) {
	hasher := &countingHasher{BcryptHasher: BcryptHasher{Cost: bcrypt.MinCost}}
	svc := NewService(repo.NewMemoryRepo(), hasher, nil, nil, nil)

	_, err := svc.Login(context.Background(), "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrBadCredentials)
	assert.Equal(t, 1, hasher.verified)
}

// passwordWriteFails rejects every password update.
type passwordWriteFails struct{ *repo.MemoryRepo }

func (passwordWriteFails) UpdatePassword(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestLogin_RehashFailureIsLoggedNotFatal(t *testing.T) {
	tokens, err := token.NewService(token.Config{Secret: "test-secret", ExpiresIn: "1h"})
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)
	hasher := &countingHasher{BcryptHasher: BcryptHasher{Cost: bcrypt.MinCost}, rehash: true}
	svc := NewService(passwordWriteFails{repo.NewMemoryRepo()}, hasher, tokens, nil, zap.New(core).Sugar())
	ctx := context.Background()

	_, err = svc.Register(ctx, "Erin", "erin@example.com", "correct-horse")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "erin@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	entries := logs.FilterMessage("password rehash failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "disk full", entries[0].ContextMap()["err"])
}

func TestLogin_Deactivated(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "dave@example.com")
	_, err := f.store.SetActive(context.Background(), reg.Account.ID, false)
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "dave@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "erin@example.com")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, reg.Account.ID, "wrong-password", "new-password-1"), ErrBadCredentials)
	assert.ErrorIs(t, f.svc.ChangePassword(ctx, reg.Account.ID, "correct-horse", "short"), ErrInvalidInput)
	require.NoError(t, f.svc.ChangePassword(ctx, reg.Account.ID, "correct-horse", "new-password-1"))

	_, err := f.svc.Login(ctx, "erin@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.svc.Login(ctx, "erin@example.com", "new-password-1")
	assert.NoError(t, err)
}

func TestPromote_WritesExactlyOneAuditEntry(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com")
	target := f.register(t, "frank@example.com")
	ctx := context.Background()

	updated, err := f.svc.Promote(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleElevated, updated.Role)

	entries, err := f.audit.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, admin.Account.ID, e.ActorID)
	assert.Equal(t, auditentity.ActionAccountPromote, e.Action)
	require.NotNil(t, e.EntityID)
	assert.Equal(t, target.Account.ID, *e.EntityID)
	require.NotNil(t, e.EntityType)
	assert.Equal(t, auditentity.EntityAccount, *e.EntityType)
	assert.JSONEq(t, `{"before":{"role":"standard"},"after":{"role":"elevated"}}`, string(e.Metadata))

	// promoting again changes nothing and records nothing
	_, err = f.svc.Promote(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	entries, err = f.audit.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPromote_ConcurrentCallsAuditOnce(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com")
	target := f.register(t, "gina@example.com")
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := f.svc.Promote(ctx, admin.Account.ID, target.Account.ID)
			assert.NoError(t, err)
			assert.Equal(t, entity.RoleElevated, acc.Role)
		}()
	}
	wg.Wait()

	entries, err := f.audit.ByEntity(ctx, auditentity.EntityAccount, target.Account.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// lostRace applies the same change just before every transition, as a
// concurrent caller would between our read and our write.
type lostRace struct{ *repo.MemoryRepo }

func (s lostRace) UpdateRole(ctx context.Context, id string, role entity.Role) (*entity.Account, error) {
	if _, err := s.MemoryRepo.UpdateRole(ctx, id, role); err != nil {
		return nil, err
	}
	return s.MemoryRepo.UpdateRole(ctx, id, role)
}

func (s lostRace) SetActive(ctx context.Context, id string, active bool) (*entity.Account, error) {
	if _, err := s.MemoryRepo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.MemoryRepo.SetActive(ctx, id, active)
}

func TestTransition_LostRaceWritesNoAuditEntry(t *testing.T) {
	tokens, err := token.NewService(token.Config{Secret: "test-secret", ExpiresIn: "1h"})
	require.NoError(t, err)
	auditSvc := audit.NewService(auditrepo.NewMemoryRepo(), nil, nil)
	svc := NewService(lostRace{repo.NewMemoryRepo()}, BcryptHasher{Cost: bcrypt.MinCost}, tokens, auditSvc, nil)
	ctx := context.Background()
	admin, err := svc.Register(ctx, "Admin", "admin@example.com", "correct-horse")
	require.NoError(t, err)
	target, err := svc.Register(ctx, "Hal", "hal@example.com", "correct-horse")
	require.NoError(t, err)

	acc, err := svc.Promote(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleElevated, acc.Role)
	acc, err = svc.Deactivate(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	assert.False(t, acc.Active)

	entries, err := auditSvc.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDemoteAndDeactivate_RejectSelf(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com")
	ctx := context.Background()

	_, err := f.svc.Demote(ctx, admin.Account.ID, admin.Account.ID)
	assert.ErrorIs(t, err, ErrSelfModification)
	_, err = f.svc.Deactivate(ctx, admin.Account.ID, admin.Account.ID)
	assert.ErrorIs(t, err, ErrSelfModification)
}

func TestDeactivateThenActivate(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com")
	target := f.register(t, "gina@example.com")
	ctx := context.Background()

	acc, err := f.svc.Deactivate(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	assert.False(t, acc.Active)
	acc, err = f.svc.Activate(ctx, admin.Account.ID, target.Account.ID)
	require.NoError(t, err)
	assert.True(t, acc.Active)

	history, err := f.audit.ByEntity(ctx, auditentity.EntityAccount, target.Account.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, auditentity.ActionAccountDeactivate, history[0].Action)
	assert.Equal(t, auditentity.ActionAccountActivate, history[1].Action)
}

func TestPromote_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Promote(context.Background(), "admin", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	cfg := BootstrapConfig{Email: "root@example.com", Password: "root-password", Name: "Root"}

	t.Run("creates once", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Bootstrap(ctx, cfg))
		require.NoError(t, f.svc.Bootstrap(ctx, cfg))

		all, err := f.store.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, entity.RoleElevated, all[0].Role)

		_, err = f.svc.Login(ctx, "root@example.com", "root-password")
		assert.NoError(t, err)
	})

	t.Run("raises existing account", func(t *testing.T) {
		f := newFixture(t)
		reg := f.register(t, "root@example.com")
		_, err := f.store.SetActive(ctx, reg.Account.ID, false)
		require.NoError(t, err)

		require.NoError(t, f.svc.Bootstrap(ctx, cfg))
		acc, err := f.store.GetByID(ctx, reg.Account.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.RoleElevated, acc.Role)
		assert.True(t, acc.Active)
	})

	t.Run("skips without config", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Bootstrap(ctx, BootstrapConfig{}))
		ok, err := f.store.ExistsWithRole(ctx, entity.RoleElevated)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("skips when elevated exists", func(t *testing.T) {
		f := newFixture(t)
		reg := f.register(t, "someone@example.com")
		_, err := f.store.UpdateRole(ctx, reg.Account.ID, entity.RoleElevated)
		require.NoError(t, err)

		require.NoError(t, f.svc.Bootstrap(ctx, cfg))
		_, err = f.store.GetByEmail(ctx, "root@example.com")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestBootstrapConfigFromEnv(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	t.Setenv("ADMIN_PASSWORD", "secret-pass")
	t.Setenv("ADMIN_NAME", "")
	cfg := BootstrapConfigFromEnv()
	assert.Equal(t, "ops@example.com", cfg.Email)
	assert.Equal(t, "secret-pass", cfg.Password)
	assert.Equal(t, "Administrator", cfg.Name)
}
