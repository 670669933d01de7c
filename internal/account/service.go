package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/account/repo"
	auditentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLen = 72
)

var (
	ErrNotFound         = repo.ErrNotFound
	ErrEmailTaken       = repo.ErrEmailTaken
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrDisabled         = errors.New("account disabled")
	ErrSelfModification = errors.New("cannot demote or deactivate your own account")
	ErrInvalidInput     = errors.New("invalid input")
)

// Store is the durable account storage the service depends on.
type Store interface {
	EnsureTable(ctx context.Context) error
	Create(ctx context.Context, a *entity.Account) error
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Account, error)
	UpdateRole(ctx context.Context, id string, role entity.Role) (*entity.Account, error)
	SetActive(ctx context.Context, id string, active bool) (*entity.Account, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	TouchLogin(ctx context.Context, id string) error
	ExistsWithRole(ctx context.Context, role entity.Role) (bool, error)
}

// TokenIssuer mints identity tokens for freshly authenticated accounts.
type TokenIssuer interface {
	Issue(accountID, email string, role entity.Role) (string, time.Time, error)
}

// Auditor appends privileged transitions; failures are its own concern.
type Auditor interface {
	Append(ctx context.Context, actorID string, action auditentity.Action, entityType, entityID string, metadata any)
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Account   entity.Profile `json:"account"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Service orchestrates registration, authentication and account lifecycle flows.
type Service struct {
	store  Store
	hasher PasswordHasher
	tokens TokenIssuer
	audit  Auditor
	logger *zap.SugaredLogger

	// dummyHash is verified against when the email is unknown, so both
	// failure paths spend the same hashing time.
	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, hasher PasswordHasher, tokens TokenIssuer, audit Auditor, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, hasher: hasher, tokens: tokens, audit: audit, logger: logger}
}

// Register creates a standard account and returns it with a first token.
func (s *Service) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	a, err := s.create(ctx, name, email, password, entity.RoleStandard)
	if err != nil {
		return nil, err
	}
	return s.issue(a)
}

// Login performs password authentication by email. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = entity.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	a, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.hasher.Verify(s.placeholderHash(), password)
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(a.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	if !a.Active {
		return nil, ErrDisabled
	}
	if err := s.store.TouchLogin(ctx, a.ID); err != nil {
		return nil, err
	}
	if s.hasher.NeedsRehash(a.PasswordHash) {
		h, err := s.hasher.Hash(password)
		if err == nil {
			err = s.store.UpdatePassword(ctx, a.ID, h)
		}
		if err != nil {
			s.logger.Warnw("password rehash failed", "id", a.ID, "err", err)
		}
	}
	return s.issue(a)
}

func (s *Service) placeholderHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("placeholder-password")
		if err != nil {
			s.logger.Warnw("placeholder hash unavailable", "err", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// ChangePassword replaces the secret after re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(a.PasswordHash, current) {
		return ErrBadCredentials
	}
	h, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, id, h)
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Account, error) {
	return s.store.GetByID(ctx, id)
}

// List returns a page of account profiles.
func (s *Service) List(ctx context.Context, limit, offset int) ([]entity.Profile, error) {
	rows, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Profile, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.Profile())
	}
	return out, nil
}

// Promote raises target to the elevated role.
func (s *Service) Promote(ctx context.Context, actorID, targetID string) (*entity.Account, error) {
	return s.changeRole(ctx, actorID, targetID, entity.RoleElevated, auditentity.ActionAccountPromote)
}

// Demote lowers target to the standard role. The change applies on the
// target's very next request because the gate re-reads the role every time.
func (s *Service) Demote(ctx context.Context, actorID, targetID string) (*entity.Account, error) {
	if actorID == targetID {
		return nil, ErrSelfModification
	}
	return s.changeRole(ctx, actorID, targetID, entity.RoleStandard, auditentity.ActionAccountDemote)
}

// Activate re-enables a deactivated account.
func (s *Service) Activate(ctx context.Context, actorID, targetID string) (*entity.Account, error) {
	return s.changeActive(ctx, actorID, targetID, true, auditentity.ActionAccountActivate)
}

// Deactivate disables an account; its outstanding tokens stop working immediately.
func (s *Service) Deactivate(ctx context.Context, actorID, targetID string) (*entity.Account, error) {
	if actorID == targetID {
		return nil, ErrSelfModification
	}
	return s.changeActive(ctx, actorID, targetID, false, auditentity.ActionAccountDeactivate)
}

func (s *Service) changeRole(ctx context.Context, actorID, targetID string, role entity.Role, action auditentity.Action) (*entity.Account, error) {
	before, err := s.store.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if before.Role == role {
		return before, nil
	}
	after, err := s.store.UpdateRole(ctx, targetID, role)
	if errors.Is(err, repo.ErrUnchanged) {
		// a concurrent call made the same change and owns its audit entry
		return s.store.GetByID(ctx, targetID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Infow("account role changed", "actor", actorID, "target", targetID, "from", before.Role, "to", after.Role)
	s.record(ctx, actorID, action, after.ID, map[string]any{
		"before": map[string]any{"role": before.Role},
		"after":  map[string]any{"role": after.Role},
	})
	return after, nil
}

func (s *Service) changeActive(ctx context.Context, actorID, targetID string, active bool, action auditentity.Action) (*entity.Account, error) {
	before, err := s.store.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if before.Active == active {
		return before, nil
	}
	after, err := s.store.SetActive(ctx, targetID, active)
	if errors.Is(err, repo.ErrUnchanged) {
		// a concurrent call made the same change and owns its audit entry
		return s.store.GetByID(ctx, targetID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Infow("account active flag changed", "actor", actorID, "target", targetID, "active", active)
	s.record(ctx, actorID, action, after.ID, map[string]any{
		"before": map[string]any{"active": before.Active},
		"after":  map[string]any{"active": after.Active},
	})
	return after, nil
}

func (s *Service) record(ctx context.Context, actorID string, action auditentity.Action, targetID string, metadata any) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, actorID, action, auditentity.EntityAccount, targetID, metadata)
}

// BootstrapConfig describes the elevated account created on first start.
type BootstrapConfig struct {
	Email    string
	Password string
	Name     string
}

// BootstrapConfigFromEnv reads ADMIN_EMAIL, ADMIN_PASSWORD and ADMIN_NAME.
func BootstrapConfigFromEnv() BootstrapConfig {
	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "Administrator"
	}
	return BootstrapConfig{Email: os.Getenv("ADMIN_EMAIL"), Password: os.Getenv("ADMIN_PASSWORD"), Name: name}
}

// Bootstrap makes sure at least one elevated account exists. It is safe to run
// on every start: the existence query is the guard, not a persisted flag.
func (s *Service) Bootstrap(ctx context.Context, cfg BootstrapConfig) error {
	exists, err := s.store.ExistsWithRole(ctx, entity.RoleElevated)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if exists {
		s.logger.Debug("bootstrap skipped: elevated account present")
		return nil
	}
	if cfg.Email == "" || cfg.Password == "" {
		s.logger.Warn("bootstrap skipped: ADMIN_EMAIL / ADMIN_PASSWORD not configured")
		return nil
	}
	email, err := validateCredentials(cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	existing, err := s.store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := s.store.UpdateRole(ctx, existing.ID, entity.RoleElevated); err != nil && !errors.Is(err, repo.ErrUnchanged) {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if !existing.Active {
			if _, err := s.store.SetActive(ctx, existing.ID, true); err != nil && !errors.Is(err, repo.ErrUnchanged) {
				return fmt.Errorf("bootstrap: %w", err)
			}
		}
		s.logger.Infow("bootstrap: existing account raised to elevated", "id", existing.ID)
		return nil
	case !errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("bootstrap: %w", err)
	}

	a, err := s.create(ctx, cfg.Name, email, cfg.Password, entity.RoleElevated)
	if errors.Is(err, repo.ErrEmailTaken) {
		// another instance won the race; its account satisfies the invariant
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	s.logger.Infow("bootstrap: elevated account created", "id", a.ID, "email", a.Email)
	return nil
}

func (s *Service) create(ctx context.Context, name, email, password string, role entity.Role) (*entity.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	a := &entity.Account{
		ID:           utilities.NewSnowflakeID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) issue(a *entity.Account) (*AuthResult, error) {
	tok, exp, err := s.tokens.Issue(a.ID, a.Email, a.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Account: a.Profile(), Token: tok, ExpiresAt: exp}, nil
}

func validateCredentials(email, password string) (string, error) {
	email = entity.NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}
