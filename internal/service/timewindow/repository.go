package timewindow

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/policy"
)

// Repository defines the data access contract for business context.
type Repository interface {
	// BusinessHours returns the configured business hours, or nil when none
	// are configured.
	BusinessHours(ctx context.Context) (*domain.BusinessHours, error)

	// ActiveCalendarBlocks returns active blocks whose interval contains at.
	ActiveCalendarBlocks(ctx context.Context, at time.Time) ([]domain.CalendarBlock, error)
}

// PolicySource supplies the current rule catalog.
type PolicySource interface {
	Current(ctx context.Context) *policy.Policy
}
