package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
)

// LockdownRepo implements lockdown.Repository against PostgreSQL.
type LockdownRepo struct{ db *sql.DB }

// NewLockdownRepo creates a Postgres-backed lockdown repository.
func NewLockdownRepo(db *sql.DB) *LockdownRepo { return &LockdownRepo{db: db} }

const lockdownColumns = `id, rule_id, agent_type, reason, triggered_value, status, created_at, resolved_at, resolved_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLockdown(row rowScanner) (*domain.Lockdown, error) {
	var (
		l          domain.Lockdown
		ruleID, by sql.NullString
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &ruleID, &l.AgentType, &l.Reason, &l.TriggeredValue, &l.Status, &l.CreatedAt, &resolvedAt, &by); err != nil {
		return nil, err
	}
	l.RuleID, l.ResolvedAt, l.ResolvedBy = stringPtr(ruleID), timePtr(resolvedAt), by.String
	return &l, nil
}

// ActiveLockdownFor returns the newest active lockdown for the agent or for
// every agent, or nil.
func (r *LockdownRepo) ActiveLockdownFor(ctx context.Context, agentType string) (*domain.Lockdown, error) {
	l, err := scanLockdown(r.db.QueryRowContext(ctx, `
		SELECT `+lockdownColumns+`
		FROM lockdowns
		WHERE status = 'active' AND (agent_type = $1 OR agent_type = 'all')
		ORDER BY created_at DESC
		LIMIT 1
	`, agentType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active lockdown: %w", err)
	}
	return l, nil
}

func (r *LockdownRepo) ListActiveLockdowns(ctx context.Context) ([]domain.Lockdown, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lockdownColumns+`
		FROM lockdowns
		WHERE status = 'active'
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list lockdowns: %w", err)
	}
	defer rows.Close()

	var out []domain.Lockdown
	for rows.Next() {
		l, err := scanLockdown(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lockdown: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *LockdownRepo) HasActiveLockdown(ctx context.Context, ruleID, agentType string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM lockdowns
			WHERE rule_id = $1 AND agent_type = $2 AND status = 'active'
		)
	`, ruleID, agentType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lockdown: %w", err)
	}
	return exists, nil
}

// CreateLockdown maps a violation of the active (rule, agent) index to
// lockdown.ErrLockdownExists.
func (r *LockdownRepo) CreateLockdown(ctx context.Context, l *domain.Lockdown) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = domain.LockdownActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lockdowns (id, rule_id, agent_type, reason, triggered_value, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, optional(l.RuleID), l.AgentType, l.Reason, l.TriggeredValue, string(l.Status), l.CreatedAt)
	if isUniqueViolation(err) {
		return lockdown.ErrLockdownExists
	}
	if err != nil {
		return fmt.Errorf("create lockdown: %w", err)
	}
	return nil
}

func (r *LockdownRepo) IncrementTriggerCount(ctx context.Context, ruleID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lockdown_rules SET trigger_count = trigger_count + 1 WHERE id = $1`,
		ruleID,
	)
	if err != nil {
		return fmt.Errorf("increment trigger count: %w", err)
	}
	return nil
}

// ResolveLockdown returns lockdown.ErrNotFound when no active lockdown has
// the id, including ids that are not UUIDs.
func (r *LockdownRepo) ResolveLockdown(ctx context.Context, id, resolvedBy string, at time.Time) (*domain.Lockdown, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, lockdown.ErrNotFound
	}
	l, err := scanLockdown(r.db.QueryRowContext(ctx, `
		UPDATE lockdowns
		SET status = 'resolved', resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+lockdownColumns,
		id, at, resolvedBy))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lockdown.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve lockdown: %w", err)
	}
	return l, nil
}
