package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// TouchRepo implements touch.Repository against PostgreSQL.
type TouchRepo struct{ db *sql.DB }

// NewTouchRepo creates a Postgres-backed touch repository.
func NewTouchRepo(db *sql.DB) *TouchRepo { return &TouchRepo{db: db} }

// InsertTouch maps a violation of the key/status index to touch.ErrDuplicateTouch.
func (r *TouchRepo) InsertTouch(ctx context.Context, t *domain.OutboundTouch) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbound_touches
			(id, contact_id, channel, status, idempotency_key, template_id, call_id, block_reason, actor_module, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.ContactID, string(t.Channel), string(t.Status), t.IdempotencyKey,
		nullString(t.TemplateID), nullString(t.CallID), nullString(string(t.BlockReason)),
		nullString(t.ActorModule), t.CreatedAt)
	if isUniqueViolation(err) {
		return touch.ErrDuplicateTouch
	}
	if err != nil {
		return fmt.Errorf("insert touch: %w", err)
	}
	return nil
}

func (r *TouchRepo) CountSent(ctx context.Context, contactID string, channel domain.Channel, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbound_touches
		WHERE contact_id = $1
		  AND ($2 = '' OR channel = $2)
		  AND status = 'sent'
		  AND created_at >= $3
	`, contactID, string(channel), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count touches: %w", err)
	}
	return n, nil
}
