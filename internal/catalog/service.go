package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	auditentity "github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/catalog/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

// sentinel errors for common failure modes
var (
	ErrNotFound        = repo.ErrNotFound
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidInput    = errors.New("invalid input")
)

// Store is the problem storage the catalog depends on.
type Store interface {
	EnsureTable(ctx context.Context) error
	Create(ctx context.Context, p *entity.Problem) error
	GetByID(ctx context.Context, id string) (*entity.Problem, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.Problem, error)
	Update(ctx context.Context, p *entity.Problem, expected int64) (int64, error)
	Retire(ctx context.Context, id string) (int64, error)
	ActiveAmong(ctx context.Context, ids []string) ([]string, error)
	CountActive(ctx context.Context) (int, error)
}

// Auditor appends content transitions best-effort.
type Auditor interface {
	Append(ctx context.Context, actorID string, action auditentity.Action, entityType, entityID string, metadata any)
}

// Service encapsulates business logic for the problem catalog.
type Service struct {
	store  Store
	audit  Auditor
	logger *zap.SugaredLogger
}

func NewService(store Store, audit Auditor, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// Input carries the editable fields of a problem. Version is the version the
// caller last saw; zero skips the check on update.
type Input struct {
	Title      string            `json:"title"`
	Difficulty entity.Difficulty `json:"difficulty"`
	Version    int64             `json:"version"`
}

func (in *Input) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Difficulty == "" {
		in.Difficulty = entity.DifficultyEasy
	}
	if !in.Difficulty.Valid() {
		return fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*entity.Problem, error) {
	return s.store.GetByID(ctx, id)
}

// List returns problems with pagination; retired ones only when activeOnly is false.
func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*entity.Problem, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, activeOnly, limit, offset)
}

// CountActive returns the number of problems currently open for tracking.
func (s *Service) CountActive(ctx context.Context) (int, error) {
	return s.store.CountActive(ctx)
}

// CheckActive returns the ids among the input that are missing or retired,
// in input order and without duplicates. An empty result means all are usable.
func (s *Service) CheckActive(ctx context.Context, ids []string) ([]string, error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	active, err := s.store.ActiveAmong(ctx, uniq)
	if err != nil {
		return nil, err
	}
	ok := make(map[string]struct{}, len(active))
	for _, id := range active {
		ok[id] = struct{}{}
	}
	missing := []string{}
	for _, id := range uniq {
		if _, found := ok[id]; !found {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Create adds an active problem at version 1.
func (s *Service) Create(ctx context.Context, actorID string, in Input) (*entity.Problem, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	p := &entity.Problem{
		ID:         utilities.NewSnowflakeID(),
		Title:      in.Title,
		Difficulty: in.Difficulty,
		Active:     true,
		Version:    1,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Infow("problem created", "actor", actorID, "id", p.ID)
	s.record(ctx, actorID, auditentity.ActionContentCreate, p.ID, map[string]any{"after": p})
	return p, nil
}

// Update edits a problem using optimistic locking on version.
func (s *Service) Update(ctx context.Context, actorID, id string, in Input) (*entity.Problem, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Version != 0 && in.Version != existing.Version {
		return nil, ErrVersionConflict
	}
	expected := existing.Version
	next := *existing
	next.Title = in.Title
	next.Difficulty = in.Difficulty
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()
	rows, err := s.store.Update(ctx, &next, expected)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// existing was found, so 0 rows indicates version mismatch
		return nil, ErrVersionConflict
	}
	s.record(ctx, actorID, auditentity.ActionContentUpdate, id, map[string]any{
		"before": map[string]any{"title": existing.Title, "difficulty": existing.Difficulty, "version": existing.Version},
		"after":  map[string]any{"title": next.Title, "difficulty": next.Difficulty, "version": next.Version},
	})
	return &next, nil
}

// Delete retires a problem. The row stays so progress records keep pointing at it.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !existing.Active {
		return ErrNotFound
	}
	rows, err := s.store.Retire(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.logger.Infow("problem retired", "actor", actorID, "id", id)
	s.record(ctx, actorID, auditentity.ActionContentDelete, id, map[string]any{
		"before": map[string]any{"title": existing.Title, "version": existing.Version},
	})
	return nil
}

func (s *Service) record(ctx context.Context, actorID string, action auditentity.Action, id string, metadata any) {
	if s.audit == nil {
		return
	}
	s.audit.Append(ctx, actorID, action, auditentity.EntityProblem, id, metadata)
}
