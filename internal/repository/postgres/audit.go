package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/audit"
)

// AuditRepo implements audit.Repository against PostgreSQL. The table is
// append only.
type AuditRepo struct{ db *sql.DB }

// NewAuditRepo creates a Postgres-backed audit repository.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) InsertAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var payload interface{}
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_type, actor_module, action_type, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.ActorType, nullString(e.ActorModule), e.ActionType, e.EntityType, e.EntityID, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepo) CountRecent(ctx context.Context, actorModule, actionType *string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_log
		WHERE ($1::text IS NULL OR actor_module = $1)
		  AND ($2::text IS NULL OR action_type = $2)
		  AND created_at >= $3
	`, optional(actorModule), optional(actionType), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func (r *AuditRepo) ListRecent(ctx context.Context, f audit.ListFilter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("action_type", f.ActionType)

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT id, actor_type, actor_module, action_type, entity_type, entity_id, payload, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			module  sql.NullString
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorType, &module, &e.ActionType, &e.EntityType, &e.EntityID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ActorModule, e.Payload = module.String, payload
		out = append(out, e)
	}
	return out, rows.Err()
}

func optional(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
