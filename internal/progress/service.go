package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/progress/repo"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

const (
	DefaultBatchMax     = 50
	DefaultStoreTimeout = 5 * time.Second
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrProblemUnavailable = errors.New("problem not found or retired")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnavailable        = errors.New("progress store unavailable")
	ErrConflict           = repo.ErrConflict
	ErrNotFound           = repo.ErrNotFound
)

// InvalidProblemsError lists the problem ids that made a batch fail its
// precondition check. It matches ErrPreconditionFailed with errors.Is.
type InvalidProblemsError struct {
	ProblemIDs []string
}

func (e *InvalidProblemsError) Error() string {
	return fmt.Sprintf("problems not found or retired: %s", strings.Join(e.ProblemIDs, ", "))
}

func (e *InvalidProblemsError) Is(target error) bool { return target == ErrPreconditionFailed }

// Store is the ledger storage. Upsert must be atomic per (account, problem).
type Store interface {
	EnsureTable(ctx context.Context) error
	Upsert(ctx context.Context, rec *entity.Record) (*entity.Record, error)
	Reset(ctx context.Context, accountID, problemID string) (*entity.Record, error)
	Insert(ctx context.Context, rec *entity.Record) error
	Get(ctx context.Context, accountID, problemID string) (*entity.Record, error)
	ListByAccount(ctx context.Context, accountID string, status entity.Status) ([]*entity.Record, error)
	CompletedProblems(ctx context.Context, accountID string) ([]string, error)
}

// Catalog answers which problems are open for tracking.
type Catalog interface {
	CheckActive(ctx context.Context, ids []string) ([]string, error)
	CountActive(ctx context.Context) (int, error)
}

// Item is one entry of a batch update.
type Item struct {
	ProblemID string        `json:"problem_id"`
	Status    entity.Status `json:"status"`
}

type Config struct {
	BatchMax     int
	StoreTimeout time.Duration
}

// Service is the progress ledger. Every operation is scoped to the account id
// passed in, which handlers take from the authorized caller only.
type Service struct {
	store   Store
	catalog Catalog
	cfg     Config
	logger  *zap.SugaredLogger
	metrics *utilities.Metrics
	now     func() time.Time
}

func NewService(store Store, catalog Catalog, cfg Config, logger *zap.SugaredLogger, metrics *utilities.Metrics) *Service {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = DefaultBatchMax
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BatchMax is the largest batch BatchUpdate accepts.
func (s *Service) BatchMax() int { return s.cfg.BatchMax }

// MarkCompleted sets the pair to completed with a fresh completed_at,
// creating the record when absent. Repeating it refreshes the timestamp.
func (s *Service) MarkCompleted(ctx context.Context, accountID, problemID string) (*entity.Record, error) {
	return s.set(ctx, "complete", accountID, problemID, entity.StatusCompleted)
}

// UpdateStatus upserts the pair to status. not_started always clears completed_at.
func (s *Service) UpdateStatus(ctx context.Context, accountID, problemID string, status entity.Status) (*entity.Record, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status must be not_started or completed", ErrInvalidInput)
	}
	return s.set(ctx, "set", accountID, problemID, status)
}

// Reset returns the pair to not_started. When no record exists it reports
// false and creates nothing.
func (s *Service) Reset(ctx context.Context, accountID, problemID string) (*entity.Record, bool, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.requireActive(ctx, problemID); err != nil {
		return nil, false, err
	}
	rec, err := s.store.Reset(ctx, accountID, problemID)
	s.metrics.ProgressMutation("reset", err)
	if err != nil {
		return nil, false, s.storeErr("reset", err)
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// BatchUpdate checks every referenced problem before writing anything, then
// applies independent upserts in order. A failure part way leaves earlier
// upserts applied. Repeated problem ids collapse to their last status.
func (s *Service) BatchUpdate(ctx context.Context, accountID string, items []Item) ([]*entity.Record, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch must not be empty", ErrInvalidInput)
	}
	if len(items) > s.cfg.BatchMax {
		return nil, fmt.Errorf("%w: batch exceeds %d items", ErrInvalidInput, s.cfg.BatchMax)
	}
	order := make([]string, 0, len(items))
	last := make(map[string]entity.Status, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProblemID) == "" {
			return nil, fmt.Errorf("%w: item %d has no problem_id", ErrInvalidInput, i)
		}
		if !it.Status.Valid() {
			return nil, fmt.Errorf("%w: item %d has invalid status %q", ErrInvalidInput, i, it.Status)
		}
		if _, seen := last[it.ProblemID]; !seen {
			order = append(order, it.ProblemID)
		}
		last[it.ProblemID] = it.Status
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	missing, err := s.catalog.CheckActive(ctx, order)
	if err != nil {
		return nil, s.storeErr("batch check", err)
	}
	if len(missing) > 0 {
		s.metrics.ProgressMutation("batch", ErrPreconditionFailed)
		return nil, &InvalidProblemsError{ProblemIDs: missing}
	}

	out := make([]*entity.Record, 0, len(order))
	for _, id := range order {
		rec, err := s.store.Upsert(ctx, s.newRecord(accountID, id, last[id]))
		if err != nil {
			s.metrics.ProgressMutation("batch", err)
			s.logger.Warnw("batch upsert failed", "account_id", accountID, "problem_id", id, "applied", len(out), "err", err)
			return out, s.storeErr("batch upsert", err)
		}
		out = append(out, rec)
	}
	s.metrics.ProgressMutation("batch", nil)
	return out, nil
}

// List returns the caller's records, optionally filtered by status.
func (s *Service) List(ctx context.Context, accountID string, status entity.Status) ([]*entity.Record, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: status must be not_started or completed", ErrInvalidInput)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	recs, err := s.store.ListByAccount(ctx, accountID, status)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return recs, nil
}

// Summary counts completed records against the active catalog. Completed
// records of retired problems are left out, so NotStarted is never negative.
func (s *Service) Summary(ctx context.Context, accountID string) (*entity.Summary, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	completed, err := s.store.CompletedProblems(ctx, accountID)
	if err != nil {
		return nil, s.storeErr("summary", err)
	}
	gone, err := s.catalog.CheckActive(ctx, completed)
	if err != nil {
		return nil, s.storeErr("summary", err)
	}
	total, err := s.catalog.CountActive(ctx)
	if err != nil {
		return nil, s.storeErr("summary", err)
	}
	done := len(completed) - len(gone)
	return &entity.Summary{Completed: done, NotStarted: total - done, TotalActive: total}, nil
}

func (s *Service) set(ctx context.Context, op, accountID, problemID string, status entity.Status) (*entity.Record, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.requireActive(ctx, problemID); err != nil {
		return nil, err
	}
	rec, err := s.store.Upsert(ctx, s.newRecord(accountID, problemID, status))
	s.metrics.ProgressMutation(op, err)
	if err != nil {
		return nil, s.storeErr(op, err)
	}
	return rec, nil
}

func (s *Service) newRecord(accountID, problemID string, status entity.Status) *entity.Record {
	rec := &entity.Record{
		ID:        utilities.NewSnowflakeID(),
		AccountID: accountID,
		ProblemID: problemID,
		Status:    status,
	}
	if status == entity.StatusCompleted {
		now := s.now()
		rec.CompletedAt = &now
	}
	return rec
}

func (s *Service) requireActive(ctx context.Context, problemID string) error {
	if strings.TrimSpace(problemID) == "" {
		return fmt.Errorf("%w: problem id is required", ErrInvalidInput)
	}
	missing, err := s.catalog.CheckActive(ctx, []string{problemID})
	if err != nil {
		return s.storeErr("problem check", err)
	}
	if len(missing) > 0 {
		return ErrProblemUnavailable
	}
	return nil
}

// storeCtx detaches from the caller's cancellation but keeps a deadline, so a
// client disconnect lets an in-flight upsert finish while a slow store still fails.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
}

func (s *Service) storeErr(op string, err error) error {
	s.logger.Warnw("progress store error", "op", op, "err", err)
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
