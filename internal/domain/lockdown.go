package domain

import "time"

// AgentAll matches every agent in lockdown scoping.
const AgentAll = "all"

// LockdownAction is what happens when a lockdown rule's threshold is met.
type LockdownAction string

const (
	LockdownPauseAgent LockdownAction = "pause_agent"
	LockdownAlertOnly  LockdownAction = "alert_only"
)

// LockdownRule triggers a lockdown when the number of matching audit entries
// inside the trailing window reaches the threshold. Nil AgentType or
// ActionType matches any value.
type LockdownRule struct {
	ID                     string         `json:"id" db:"id"`
	RuleName               string         `json:"rule_name" db:"rule_name"`
	AgentType              *string        `json:"agent_type,omitempty" db:"agent_type"`
	ActionType             *string        `json:"action_type,omitempty" db:"action_type"`
	ThresholdValue         int            `json:"threshold_value" db:"threshold_value"`
	ThresholdWindowMinutes int            `json:"threshold_window_minutes" db:"threshold_window_minutes"`
	LockdownAction         LockdownAction `json:"lockdown_action" db:"lockdown_action"`
	TriggerCount           int            `json:"trigger_count" db:"trigger_count"`
	IsActive               bool           `json:"is_active" db:"is_active"`
}

// MatchesAgent reports whether the rule applies to the agent type.
func (r LockdownRule) MatchesAgent(agentType string) bool {
	return r.AgentType == nil || *r.AgentType == agentType || *r.AgentType == AgentAll
}

// MatchesAction reports whether the rule applies to the action type.
func (r LockdownRule) MatchesAction(actionType string) bool {
	return r.ActionType == nil || actionType == "" || *r.ActionType == actionType
}

// Window returns the trailing window as a duration.
func (r LockdownRule) Window() time.Duration {
	return time.Duration(r.ThresholdWindowMinutes) * time.Minute
}

// LockdownStatus is the lifecycle state of a lockdown.
type LockdownStatus string

const (
	LockdownActive   LockdownStatus = "active"
	LockdownResolved LockdownStatus = "resolved"
)

// Lockdown blocks every gated action for AgentType (or for every agent when
// AgentType is AgentAll) while its status is active.
type Lockdown struct {
	ID             string         `json:"id" db:"id"`
	RuleID         *string        `json:"rule_id,omitempty" db:"rule_id"`
	AgentType      string         `json:"agent_type" db:"agent_type"`
	Reason         string         `json:"reason" db:"reason"`
	TriggeredValue int            `json:"triggered_value" db:"triggered_value"`
	Status         LockdownStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     string         `json:"resolved_by,omitempty" db:"resolved_by"`
}

// Applies reports whether the lockdown is active and covers the agent.
func (l Lockdown) Applies(agentType string) bool {
	if l.Status != LockdownActive {
		return false
	}
	return l.AgentType == AgentAll || l.AgentType == agentType
}
