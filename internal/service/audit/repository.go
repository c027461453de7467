package audit

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Repository defines the data access contract for the audit log.
type Repository interface {
	InsertAudit(ctx context.Context, e *domain.AuditEntry) error

	// CountRecent counts entries created at or after since. A nil actor or
	// action matches any value.
	CountRecent(ctx context.Context, actorModule, actionType *string, since time.Time) (int, error)

	ListRecent(ctx context.Context, f ListFilter) ([]domain.AuditEntry, error)
}

// ListFilter narrows ListRecent.
type ListFilter struct {
	EntityType string
	EntityID   string
	ActionType string
	Limit      int
}

// Sink archives entries outside the primary store.
type Sink interface {
	Archive(ctx context.Context, e domain.AuditEntry) error
}
