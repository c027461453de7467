package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// Entry is the caller's view of an audit record. Payload is marshalled to
// JSON; a json.RawMessage is stored as is.
type Entry struct {
	ActorType   string
	ActorModule string
	ActionType  string
	EntityType  string
	EntityID    string
	Payload     interface{}
}

// Trail writes audit entries. It is safe for concurrent use.
type Trail struct {
	repo  Repository
	sinks []Sink
	now   func() time.Time
}

// NewTrail creates an audit trail backed by repo, archiving to sinks.
func NewTrail(repo Repository, sinks ...Sink) *Trail {
	return &Trail{repo: repo, sinks: sinks, now: time.Now}
}

// WithClock overrides the clock used to stamp entries.
func (t *Trail) WithClock(now func() time.Time) *Trail {
	t.now = now
	return t
}

// Write appends the entry. Failures are logged and swallowed.
func (t *Trail) Write(ctx context.Context, in Entry) {
	e, err := t.build(in)
	if err != nil {
		logger.Warn("dropping audit entry", "action_type", in.ActionType, "error", err)
		return
	}

	if err := t.repo.InsertAudit(ctx, e); err != nil {
		logger.Warn("audit write failed", "action_type", e.ActionType, "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
	}

	for _, s := range t.sinks {
		if err := s.Archive(ctx, *e); err != nil {
			logger.Warn("audit archive failed", "audit_id", e.ID, "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}
}

func (t *Trail) build(in Entry) (*domain.AuditEntry, error) {
	if in.ActionType == "" {
		return nil, fmt.Errorf("%w: action type is required", ErrInvalidEntry)
	}
	if in.ActorType == "" {
		in.ActorType = domain.ActorSystem
	}

	var payload json.RawMessage
	switch p := in.Payload.(type) {
	case nil:
	case json.RawMessage:
		payload = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEntry, err)
		}
		payload = b
	}

	return &domain.AuditEntry{
		ID:          uuid.New().String(),
		ActorType:   in.ActorType,
		ActorModule: in.ActorModule,
		ActionType:  in.ActionType,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		Payload:     payload,
		CreatedAt:   t.now().UTC(),
	}, nil
}

// CountRecent counts matching entries inside the trailing window.
func (t *Trail) CountRecent(ctx context.Context, actorModule, actionType *string, window time.Duration) (int, error) {
	n, err := t.repo.CountRecent(ctx, actorModule, actionType, t.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// List returns recent entries, newest first.
func (t *Trail) List(ctx context.Context, f ListFilter) ([]domain.AuditEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return t.repo.ListRecent(ctx, f)
}
