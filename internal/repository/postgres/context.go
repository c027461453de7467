package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/compliance-gate/internal/domain"
)

// ContextRepo implements timewindow.Repository against PostgreSQL.
type ContextRepo struct{ db *sql.DB }

// NewContextRepo creates a Postgres-backed business context repository.
func NewContextRepo(db *sql.DB) *ContextRepo { return &ContextRepo{db: db} }

// BusinessHours returns nil when the single row has not been configured.
func (r *ContextRepo) BusinessHours(ctx context.Context) (*domain.BusinessHours, error) {
	var (
		h    domain.BusinessHours
		days pq.Int64Array
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT timezone, start_hour, end_hour, active_days FROM business_hours WHERE id = 1`,
	).Scan(&h.Timezone, &h.StartHour, &h.EndHour, &days)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("business hours: %w", err)
	}
	for _, d := range days {
		if d >= 0 && d <= 6 {
			h.ActiveDays = append(h.ActiveDays, time.Weekday(d))
		}
	}
	return &h, nil
}

func (r *ContextRepo) ActiveCalendarBlocks(ctx context.Context, at time.Time) ([]domain.CalendarBlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, starts_at, ends_at, is_active
		FROM calendar_blocks
		WHERE is_active = true AND starts_at <= $1 AND ends_at > $1
		ORDER BY starts_at
	`, at)
	if err != nil {
		return nil, fmt.Errorf("calendar blocks: %w", err)
	}
	defer rows.Close()

	var out []domain.CalendarBlock
	for rows.Next() {
		var b domain.CalendarBlock
		if err := rows.Scan(&b.ID, &b.Title, &b.StartsAt, &b.EndsAt, &b.IsActive); err != nil {
			return nil, fmt.Errorf("scan calendar block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
