package lockdown

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/policy"
)

// Repository defines the data access contract for lockdowns.
type Repository interface {
	// ActiveLockdownFor returns the newest active lockdown covering the agent
	// directly or through AgentAll, or nil.
	ActiveLockdownFor(ctx context.Context, agentType string) (*domain.Lockdown, error)

	ListActiveLockdowns(ctx context.Context) ([]domain.Lockdown, error)

	// HasActiveLockdown reports whether an active lockdown exists for the
	// rule and agent.
	HasActiveLockdown(ctx context.Context, ruleID, agentType string) (bool, error)

	// CreateLockdown inserts an active lockdown. Returns ErrLockdownExists
	// when one is already active for the same rule and agent.
	CreateLockdown(ctx context.Context, l *domain.Lockdown) error

	IncrementTriggerCount(ctx context.Context, ruleID string) error

	// ResolveLockdown marks an active lockdown resolved. Returns ErrNotFound
	// when no active lockdown has the id.
	ResolveLockdown(ctx context.Context, id, resolvedBy string, at time.Time) (*domain.Lockdown, error)
}

// PolicySource supplies lockdown rules.
type PolicySource interface {
	Current(ctx context.Context) *policy.Policy
}

// AuditTrail counts and records audit entries.
type AuditTrail interface {
	Write(ctx context.Context, e audit.Entry)
	CountRecent(ctx context.Context, actorModule, actionType *string, window time.Duration) (int, error)
}
