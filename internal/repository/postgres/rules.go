package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/compliance-gate/internal/domain"
)

// RuleRepo implements policy.Repository against PostgreSQL.
type RuleRepo struct{ db *sql.DB }

// NewRuleRepo creates a Postgres-backed rule catalog repository.
func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

func (r *RuleRepo) ListActiveComplianceRules(ctx context.Context) ([]domain.ComplianceRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_key, rule_type, rule_value, enforcement_level, priority, is_active, updated_at
		FROM compliance_rules
		WHERE is_active = true
		ORDER BY priority DESC, rule_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list compliance rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ComplianceRule
	for rows.Next() {
		var (
			c     domain.ComplianceRule
			value []byte
		)
		if err := rows.Scan(&c.ID, &c.RuleKey, &c.RuleType, &value, &c.EnforcementLevel, &c.Priority, &c.IsActive, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan compliance rule: %w", err)
		}
		c.RuleValue = value
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RuleRepo) ListActiveLockdownRules(ctx context.Context) ([]domain.LockdownRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_name, agent_type, action_type, threshold_value,
		       threshold_window_minutes, lockdown_action, trigger_count, is_active
		FROM lockdown_rules
		WHERE is_active = true
		ORDER BY rule_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list lockdown rules: %w", err)
	}
	defer rows.Close()

	var out []domain.LockdownRule
	for rows.Next() {
		var (
			lr            domain.LockdownRule
			agent, action sql.NullString
		)
		if err := rows.Scan(&lr.ID, &lr.RuleName, &agent, &action, &lr.ThresholdValue,
			&lr.ThresholdWindowMinutes, &lr.LockdownAction, &lr.TriggerCount, &lr.IsActive); err != nil {
			return nil, fmt.Errorf("scan lockdown rule: %w", err)
		}
		lr.AgentType, lr.ActionType = stringPtr(agent), stringPtr(action)
		out = append(out, lr)
	}
	return out, rows.Err()
}
