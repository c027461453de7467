package touch

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Repository defines the data access contract for outbound touches.
type Repository interface {
	// InsertTouch stores a touch. Implementations return ErrDuplicateTouch
	// when a touch with the same idempotency key and status already exists,
	// so a blocked or failed attempt never collides with a send.
	InsertTouch(ctx context.Context, t *domain.OutboundTouch) error

	// CountSent counts sent touches created at or after since. An empty
	// channel counts every channel.
	CountSent(ctx context.Context, contactID string, channel domain.Channel, since time.Time) (int, error)
}
