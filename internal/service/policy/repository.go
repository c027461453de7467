package policy

import (
	"context"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Repository defines the data access contract for the rule catalog.
type Repository interface {
	// ListActiveComplianceRules returns every compliance rule with is_active=true.
	ListActiveComplianceRules(ctx context.Context) ([]domain.ComplianceRule, error)

	// ListActiveLockdownRules returns every lockdown rule with is_active=true.
	ListActiveLockdownRules(ctx context.Context) ([]domain.LockdownRule, error)
}
