package lockdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/notify"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/service/audit"
)

// Check weights feeding the risk score.
const (
	WeightPauseThreshold = 50
	WeightAlertThreshold = 25
	WeightCountFailure   = 10
	MaxRiskScore         = 100
)

// ActorMonitor is the actor module stamped on entries the monitor writes.
const ActorMonitor = "lockdown-monitor"

// WeightedCheck is one rule evaluated against the recent action count.
type WeightedCheck struct {
	Rule      string `json:"rule"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Passed    bool   `json:"passed"`
	Weight    int    `json:"weight"`
}

// Evaluation is the outcome of evaluating every matching lockdown rule.
type Evaluation struct {
	AgentType       string            `json:"agent_type"`
	ActionType      string            `json:"action_type,omitempty"`
	Blocked         bool              `json:"blocked"`
	Lockdowns       []domain.Lockdown `json:"lockdowns,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	RiskScore       int               `json:"risk_score"`
	Checks          []WeightedCheck   `json:"checks"`
}

// score sums the weights of failed checks.
func score(checks []WeightedCheck) int {
	total := 0
	for _, c := range checks {
		if !c.Passed {
			total += c.Weight
		}
	}
	if total > MaxRiskScore {
		total = MaxRiskScore
	}
	return total
}

// Monitor evaluates lockdown rules and manages lockdown lifecycle.
type Monitor struct {
	repo        Repository
	policies    PolicySource
	trail       AuditTrail
	notifier    notify.Notifier
	readTimeout time.Duration
	now         func() time.Time
}

// NewMonitor creates a monitor. readTimeout bounds each lockdown status read.
func NewMonitor(repo Repository, policies PolicySource, trail AuditTrail, notifier notify.Notifier, readTimeout time.Duration) *Monitor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if readTimeout <= 0 {
		readTimeout = 2 * time.Second
	}
	return &Monitor{
		repo:        repo,
		policies:    policies,
		trail:       trail,
		notifier:    notifier,
		readTimeout: readTimeout,
		now:         time.Now,
	}
}

// WithClock overrides the clock used to stamp lockdowns.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Evaluate counts recent actions for every active rule matching the agent and
// action. actionType may be empty to match any action. A pause_agent rule at
// or over its threshold creates a lockdown and blocks; an alert_only rule only
// warns.
func (m *Monitor) Evaluate(ctx context.Context, agentType, actionType string) Evaluation {
	ev := Evaluation{AgentType: agentType, ActionType: actionType}

	for _, rule := range m.policies.Current(ctx).LockdownRules() {
		if !rule.IsActive || !rule.MatchesAgent(agentType) || !rule.MatchesAction(actionType) {
			continue
		}
		if rule.ThresholdValue <= 0 || rule.ThresholdWindowMinutes <= 0 {
			continue
		}

		count, err := m.trail.CountRecent(ctx, rule.AgentType, rule.ActionType, rule.Window())
		if err != nil {
			logger.Error("lockdown rule count failed", "rule", rule.RuleName, "agent_type", agentType, "error", err)
			ev.Checks = append(ev.Checks, WeightedCheck{Rule: rule.RuleName, Threshold: rule.ThresholdValue, Weight: WeightCountFailure})
			ev.Warnings = append(ev.Warnings, fmt.Sprintf("could not evaluate lockdown rule %s", rule.RuleName))
			continue
		}

		check := WeightedCheck{
			Rule:      rule.RuleName,
			Count:     count,
			Threshold: rule.ThresholdValue,
			Passed:    count < rule.ThresholdValue,
		}

		switch rule.LockdownAction {
		case domain.LockdownPauseAgent:
			check.Weight = WeightPauseThreshold
			if check.Passed {
				break
			}
			l, err := m.trigger(ctx, rule, count)
			if err != nil {
				// Could not persist; still block this call.
				logger.Error("lockdown activation failed", "rule", rule.RuleName, "error", err)
			}
			ev.Blocked = true
			if l != nil {
				ev.Lockdowns = append(ev.Lockdowns, *l)
			}
		default:
			check.Weight = WeightAlertThreshold
			if check.Passed {
				break
			}
			ev.Warnings = append(ev.Warnings, fmt.Sprintf("%s: %d actions in %d minutes (threshold %d)",
				rule.RuleName, count, rule.ThresholdWindowMinutes, rule.ThresholdValue))
			ev.Recommendations = append(ev.Recommendations, fmt.Sprintf("Reduce %s rate for %s",
				describeAction(rule), targetAgent(rule)))
			logger.Warn("lockdown alert threshold reached", "rule", rule.RuleName, "agent_type", agentType, "count", count)
		}
		ev.Checks = append(ev.Checks, check)
	}

	ev.RiskScore = score(ev.Checks)
	return ev
}

// trigger creates the lockdown for a rule unless one is already active.
func (m *Monitor) trigger(ctx context.Context, rule domain.LockdownRule, count int) (*domain.Lockdown, error) {
	target := targetAgent(rule)

	exists, err := m.repo.HasActiveLockdown(ctx, rule.ID, target)
	if err != nil {
		return nil, fmt.Errorf("checking active lockdown: %w", err)
	}
	if exists {
		return nil, nil
	}

	ruleID := rule.ID
	l := &domain.Lockdown{
		ID:             uuid.New().String(),
		RuleID:         &ruleID,
		AgentType:      target,
		Reason:         fmt.Sprintf("%s: %d actions in %d minutes (threshold %d)", rule.RuleName, count, rule.ThresholdWindowMinutes, rule.ThresholdValue),
		TriggeredValue: count,
		Status:         domain.LockdownActive,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.repo.CreateLockdown(ctx, l); err != nil {
		if errors.Is(err, ErrLockdownExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("creating lockdown: %w", err)
	}
	if err := m.repo.IncrementTriggerCount(ctx, rule.ID); err != nil {
		logger.Warn("incrementing lockdown trigger count failed", "rule_id", rule.ID, "error", err)
	}

	logger.Warn("lockdown activated", "lockdown_id", l.ID, "rule", rule.RuleName, "agent_type", target, "count", count)
	m.announce(ctx, l, "rule:"+rule.RuleName)
	return l, nil
}

// IsLocked reports whether an active lockdown covers the agent. A failed or
// timed-out read counts as locked.
func (m *Monitor) IsLocked(ctx context.Context, agentType string) (bool, *domain.Lockdown) {
	rctx, cancel := context.WithTimeout(ctx, m.readTimeout)
	defer cancel()

	l, err := m.repo.ActiveLockdownFor(rctx, agentType)
	if err == nil {
		err = rctx.Err()
	}
	if err != nil {
		logger.Error("lockdown status unreadable, treating as locked", "agent_type", agentType, "error", err)
		return true, nil
	}
	if l == nil {
		return false, nil
	}
	return true, l
}

// ActivateManual creates a lockdown not tied to any rule.
func (m *Monitor) ActivateManual(ctx context.Context, agentType, reason, actor string) (*domain.Lockdown, error) {
	agentType = strings.TrimSpace(agentType)
	if agentType == "" {
		return nil, ErrAgentRequired
	}
	if reason == "" {
		reason = "manual lockdown"
	}
	l := &domain.Lockdown{
		ID:        uuid.New().String(),
		AgentType: agentType,
		Reason:    reason,
		Status:    domain.LockdownActive,
		CreatedAt: m.now().UTC(),
	}
	if err := m.repo.CreateLockdown(ctx, l); err != nil {
		return nil, fmt.Errorf("creating manual lockdown: %w", err)
	}
	if actor == "" {
		actor = "manual"
	}
	logger.Warn("manual lockdown activated", "lockdown_id", l.ID, "agent_type", agentType, "actor", actor)
	m.announce(ctx, l, actor)
	return l, nil
}

// Resolve ends an active lockdown.
func (m *Monitor) Resolve(ctx context.Context, id, resolvedBy, note string) (*domain.Lockdown, error) {
	if strings.TrimSpace(resolvedBy) == "" {
		return nil, ErrResolverRequired
	}
	l, err := m.repo.ResolveLockdown(ctx, id, resolvedBy, m.now().UTC())
	if err != nil {
		return nil, err
	}

	logger.Info("lockdown resolved", "lockdown_id", id, "agent_type", l.AgentType, "resolved_by", resolvedBy)
	m.trail.Write(ctx, audit.Entry{
		ActorType:   domain.ActorUser,
		ActorModule: resolvedBy,
		ActionType:  domain.ActionLockdownResolved,
		EntityType:  "lockdown",
		EntityID:    l.ID,
		Payload:     map[string]interface{}{"agent_type": l.AgentType, "note": note},
	})
	_ = m.notifier.Notify(ctx, notify.Alert{
		Severity: notify.SeverityInfo,
		Kind:     notify.KindLockdownCleared,
		Subject:  fmt.Sprintf("Lockdown resolved for %s", l.AgentType),
		Body:     note,
		Fields:   map[string]interface{}{"lockdown_id": l.ID, "agent_type": l.AgentType, "resolved_by": resolvedBy},
		At:       m.now().UTC(),
	})
	return l, nil
}

// ListActive returns every active lockdown.
func (m *Monitor) ListActive(ctx context.Context) ([]domain.Lockdown, error) {
	return m.repo.ListActiveLockdowns(ctx)
}

func (m *Monitor) announce(ctx context.Context, l *domain.Lockdown, source string) {
	m.trail.Write(ctx, audit.Entry{
		ActorType:   domain.ActorSystem,
		ActorModule: ActorMonitor,
		ActionType:  domain.ActionLockdownActivated,
		EntityType:  "lockdown",
		EntityID:    l.ID,
		Payload: map[string]interface{}{
			"agent_type":      l.AgentType,
			"reason":          l.Reason,
			"triggered_value": l.TriggeredValue,
			"source":          source,
		},
	})
	_ = m.notifier.Notify(ctx, notify.Alert{
		Severity: notify.SeverityCritical,
		Kind:     notify.KindLockdown,
		Subject:  fmt.Sprintf("Lockdown activated for %s", l.AgentType),
		Body:     l.Reason,
		Fields: map[string]interface{}{
			"lockdown_id":     l.ID,
			"agent_type":      l.AgentType,
			"triggered_value": l.TriggeredValue,
			"source":          source,
		},
		At: l.CreatedAt,
	})
}

// targetAgent is the agent a rule's lockdown applies to.
func targetAgent(rule domain.LockdownRule) string {
	if rule.AgentType == nil || *rule.AgentType == "" {
		return domain.AgentAll
	}
	return *rule.AgentType
}

func describeAction(rule domain.LockdownRule) string {
	if rule.ActionType == nil || *rule.ActionType == "" {
		return "action"
	}
	return *rule.ActionType
}
