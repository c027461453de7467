package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
)

// ActionRequest describes one high-velocity automated action such as a
// scrape or an ad spend.
type ActionRequest struct {
	AgentType  string  `json:"agent_type"`
	ActionType string  `json:"action_type"`
	Amount     float64 `json:"amount,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
}

// ActionResult is the decision for an automated action.
type ActionResult struct {
	Allowed         bool                     `json:"allowed"`
	Reason          domain.ReasonCode        `json:"reason,omitempty"`
	Message         string                   `json:"message"`
	RuleKey         string                   `json:"rule_key,omitempty"`
	RiskScore       int                      `json:"risk_score"`
	Checks          []lockdown.WeightedCheck `json:"checks,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Recommendations []string                 `json:"recommendations,omitempty"`
	RecentCount     *int                     `json:"recent_count,omitempty"`
	SpendTotal      *float64                 `json:"spend_total,omitempty"`
	CheckedAt       time.Time                `json:"checked_at"`
}

func (r *ActionResult) block(reason domain.ReasonCode, msg string) {
	r.Allowed = false
	r.Reason = reason
	if msg == "" {
		msg = reason.Message()
	}
	r.Message = msg
}

// AssertCanAct admits an automated action: emergency stop, agent lockdown,
// lockdown rule evaluation, the action's rate limit, then its spend cap.
// Allowed actions are audited under the agent so lockdown rules can count
// them.
func (g *Gate) AssertCanAct(ctx context.Context, req ActionRequest) (ActionResult, error) {
	req.AgentType = strings.TrimSpace(req.AgentType)
	req.ActionType = strings.TrimSpace(req.ActionType)
	switch {
	case req.AgentType == "":
		return ActionResult{}, fmt.Errorf("%w: agent type is required", ErrValidation)
	case req.ActionType == "":
		return ActionResult{}, fmt.Errorf("%w: action type is required", ErrValidation)
	case req.Amount < 0:
		return ActionResult{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}

	ctx, span := g.tracer.Start(ctx, "gate.AssertCanAct", trace.WithAttributes(
		attribute.String("agent.type", req.AgentType),
		attribute.String("action.type", req.ActionType),
	))
	defer span.End()

	res := g.evaluateAction(ctx, req)
	res.CheckedAt = g.now().UTC()
	span.SetAttributes(attribute.Bool("gate.allowed", res.Allowed), attribute.Int("gate.risk_score", res.RiskScore))

	entityType, entityID := req.EntityType, req.EntityID
	if entityType == "" {
		entityType = "action"
	}
	payload := map[string]interface{}{"risk_score": res.RiskScore}
	if req.Amount > 0 {
		payload["amount"] = req.Amount
	}

	if res.Allowed {
		g.deps.Audit.Write(ctx, audit.Entry{
			ActorType:   domain.ActorAgent,
			ActorModule: req.AgentType,
			ActionType:  req.ActionType,
			EntityType:  entityType,
			EntityID:    entityID,
			Payload:     payload,
		})
		return res, nil
	}

	logger.Info("action blocked", "agent_type", req.AgentType, "action_type", req.ActionType, "reason", string(res.Reason))
	payload["action_type"] = req.ActionType
	payload["reason"] = string(res.Reason)
	payload["message"] = res.Message
	g.deps.Audit.Write(ctx, audit.Entry{
		ActorType:   domain.ActorAgent,
		ActorModule: req.AgentType,
		ActionType:  domain.ActionAutomatedBlocked,
		EntityType:  entityType,
		EntityID:    entityID,
		Payload:     payload,
	})
	return res, nil
}

func (g *Gate) evaluateAction(ctx context.Context, req ActionRequest) ActionResult {
	res := ActionResult{Allowed: true}

	active, err := g.deps.EmergencyStop.Active(ctx)
	if err != nil {
		logger.Error("emergency stop unreadable, blocking", "error", err)
		active = true
	}
	if active {
		res.block(domain.ReasonEmergencyStop, "")
		return res
	}

	if locked, l := g.deps.Lockdowns.IsLocked(ctx, req.AgentType); locked {
		msg := ""
		if l != nil {
			msg = fmt.Sprintf("Agent %s is locked down: %s", req.AgentType, l.Reason)
		}
		res.block(domain.ReasonLockdown, msg)
		return res
	}

	ev := g.deps.Lockdowns.Evaluate(ctx, req.AgentType, req.ActionType)
	res.RiskScore = ev.RiskScore
	res.Checks = ev.Checks
	res.Warnings = append(res.Warnings, ev.Warnings...)
	res.Recommendations = append(res.Recommendations, ev.Recommendations...)
	if ev.Blocked {
		msg := fmt.Sprintf("Lockdown threshold reached for %s", req.AgentType)
		if len(ev.Lockdowns) > 0 {
			msg = ev.Lockdowns[0].Reason
		}
		res.block(domain.ReasonLockdown, msg)
		return res
	}

	pol := g.deps.Policies.Current(ctx)

	if c, ok := pol.ActionRateLimit(req.ActionType); ok {
		agent, action := req.AgentType, req.ActionType
		count, err := g.deps.Audit.CountRecent(ctx, &agent, &action, c.Window)
		if err != nil {
			logger.Error("action rate count failed, blocking", "agent_type", agent, "action_type", action, "error", err)
			res.block(domain.ReasonRateLimit, "Action rate unavailable")
			res.RuleKey = c.RuleKey
			return res
		}
		res.RecentCount = &count
		if count >= c.Limit {
			msg := fmt.Sprintf("%s rate limit reached: %d/%d in %s", action, count, c.Limit, c.Window)
			if c.Enforcement != domain.EnforceBlock {
				res.Warnings = append(res.Warnings, msg)
			} else {
				res.block(domain.ReasonRateLimit, msg)
				res.RuleKey = c.RuleKey
				return res
			}
		}
	}

	if req.Amount > 0 {
		if !g.checkSpend(ctx, req, &res) {
			return res
		}
	}

	res.Message = "Action allowed"
	return res
}

// checkSpend reserves req.Amount against the spend cap for the action type,
// falling back to the agent type. It reports whether res is still allowed.
func (g *Gate) checkSpend(ctx context.Context, req ActionRequest, res *ActionResult) bool {
	pol := g.deps.Policies.Current(ctx)
	rule, ok := pol.SpendCap(req.ActionType)
	if !ok {
		if rule, ok = pol.SpendCap(req.AgentType); !ok {
			return true
		}
	}
	if g.deps.Spend == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("spend cap %s is not enforced without a spend tracker", rule.Key()))
		return true
	}

	allowed, total, err := g.deps.Spend.Reserve(ctx, rule.Scope, req.Amount, rule.Amount, rule.Window)
	if err != nil {
		logger.Error("spend reservation failed, blocking", "scope", rule.Scope, "error", err)
		res.block(domain.ReasonRateLimit, "Spend cap unavailable")
		res.RuleKey = rule.Key()
		return false
	}
	res.SpendTotal = &total
	if allowed {
		return true
	}

	msg := fmt.Sprintf("spend cap reached for %s: %.2f + %.2f exceeds %.2f in %s", rule.Scope, total, req.Amount, rule.Amount, rule.Window)
	if rule.Enforcement() != domain.EnforceBlock {
		res.Warnings = append(res.Warnings, msg)
		return true
	}
	res.block(domain.ReasonRateLimit, msg)
	res.RuleKey = rule.Key()
	return false
}
