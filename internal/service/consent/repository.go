package consent

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Repository defines the data access contract for consent and suppression
// records.
type Repository interface {
	// IsSuppressed reports whether an active suppression covers the channel,
	// either directly or through an "all" scoped record.
	IsSuppressed(ctx context.Context, contactID string, channel domain.Channel) (bool, error)

	// HasValidConsent reports whether an unrevoked consent record exists for
	// the channel. An empty consentType matches any type.
	HasValidConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string) (bool, error)

	InsertConsent(ctx context.Context, rec *domain.ConsentRecord) error

	// RevokeConsent stamps revoked_at on every valid matching record and
	// returns how many were revoked.
	RevokeConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string, at time.Time) (int, error)

	// Suppress inserts a suppression unless an active one already exists for
	// the same contact and scope.
	Suppress(ctx context.Context, rec *domain.SuppressionRecord) error

	// Reactivate stamps reactivated_at on active suppressions for the scope
	// and returns how many were lifted.
	Reactivate(ctx context.Context, contactID string, channel domain.Channel, at time.Time) (int, error)

	ListConsent(ctx context.Context, contactID string) ([]domain.ConsentRecord, error)
	ListSuppressions(ctx context.Context, contactID string) ([]domain.SuppressionRecord, error)
}
