package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tracker-go/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tracker-go/pkg/utilities"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// appendTimeout bounds a best-effort append once it is detached from the request.
	appendTimeout = 5 * time.Second
)

var (
	ErrInvalidAction = errors.New("unknown audit action")
	ErrActorRequired = errors.New("audit actor is required")
	ErrInvalidRange  = errors.New("invalid time range")
)

// Store is append + read only on purpose.
type Store interface {
	EnsureTable(ctx context.Context) error
	Insert(ctx context.Context, e *entity.Entry) error
	ByActor(ctx context.Context, actorID string, limit int) ([]*entity.Entry, error)
	ByEntity(ctx context.Context, entityType, entityID string) ([]*entity.Entry, error)
	Recent(ctx context.Context, limit int) ([]*entity.Entry, error)
	Between(ctx context.Context, from, to time.Time, limit int) ([]*entity.Entry, error)
}

// Service records and queries privileged state transitions.
type Service struct {
	store   Store
	logger  *zap.SugaredLogger
	metrics *utilities.Metrics
	now     func() time.Time
}

func NewService(store Store, logger *zap.SugaredLogger, metrics *utilities.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, logger: logger, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends one entry. entityType/entityID may be empty; metadata may be
// nil, raw JSON, or any value that marshals to JSON.
func (s *Service) Record(ctx context.Context, actorID string, action entity.Action, entityType, entityID string, metadata any) (*entity.Entry, error) {
	if actorID == "" {
		return nil, ErrActorRequired
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode audit metadata: %w", err)
	}
	e := &entity.Entry{
		ID:        utilities.NewKSUID(),
		ActorID:   actorID,
		Action:    action,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	if entityType != "" {
		e.EntityType = &entityType
	}
	if entityID != "" {
		e.EntityID = &entityID
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Append is the call-site form of Record used after a primary mutation has
// already succeeded. It ignores request cancellation, and a failure is logged
// and counted but never returned: the audit trail must not block the action.
func (s *Service) Append(ctx context.Context, actorID string, action entity.Action, entityType, entityID string, metadata any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if _, err := s.Record(ctx, actorID, action, entityType, entityID, metadata); err != nil {
		s.metrics.AuditAppendFailed()
		s.logger.Errorw("audit append failed",
			"actor", actorID, "action", action, "entity_type", entityType, "entity_id", entityID, "err", err)
	}
}

// ByActor returns the newest entries written by actorID.
func (s *Service) ByActor(ctx context.Context, actorID string, limit int) ([]*entity.Entry, error) {
	return s.store.ByActor(ctx, actorID, PageSize(limit))
}

// ByEntity returns the full history of one entity.
func (s *Service) ByEntity(ctx context.Context, entityType, entityID string) ([]*entity.Entry, error) {
	return s.store.ByEntity(ctx, entityType, entityID)
}

// Recent returns global recent activity.
func (s *Service) Recent(ctx context.Context, limit int) ([]*entity.Entry, error) {
	return s.store.Recent(ctx, PageSize(limit))
}

// Between returns entries in [from, to), newest first.
func (s *Service) Between(ctx context.Context, from, to time.Time, limit int) ([]*entity.Entry, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	return s.store.Between(ctx, from, to, PageSize(limit))
}

// PageSize clamps a requested limit to the allowed page size.
func PageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func encodeMetadata(v any) (json.RawMessage, error) {
	switch m := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(m) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(m) {
			return nil, errors.New("metadata is not valid JSON")
		}
		return m, nil
	default:
		return json.Marshal(v)
	}
}
