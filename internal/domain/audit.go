package domain

import (
	"encoding/json"
	"time"
)

// Actor types recorded on audit entries.
const (
	ActorSystem = "system"
	ActorAgent  = "agent"
	ActorUser   = "user"
)

// Audit action types written by the gate itself.
const (
	ActionOutboundSent      = "outbound.sent"
	ActionOutboundBlocked   = "outbound.blocked"
	ActionOutboundFailed    = "outbound.failed"
	ActionAutomatedBlocked  = "action.blocked"
	ActionLockdownActivated = "lockdown.activated"
	ActionLockdownResolved  = "lockdown.resolved"
	ActionLockdownWarning   = "lockdown.warning"
	ActionEmergencyStop     = "emergency_stop.changed"
)

// AuditEntry is an append-only record of a decision or outcome. The
// LockdownMonitor counts these rows per actor/action type.
type AuditEntry struct {
	ID          string          `json:"id" db:"id"`
	ActorType   string          `json:"actor_type" db:"actor_type"`
	ActorModule string          `json:"actor_module,omitempty" db:"actor_module"`
	ActionType  string          `json:"action_type" db:"action_type"`
	EntityType  string          `json:"entity_type" db:"entity_type"`
	EntityID    string          `json:"entity_id" db:"entity_id"`
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
