package domain

import "time"

// TouchStatus is the outcome of one outbound attempt.
type TouchStatus string

const (
	TouchSent    TouchStatus = "sent"
	TouchBlocked TouchStatus = "blocked"
	TouchFailed  TouchStatus = "failed"
)

// Valid reports whether s is a known touch status.
func (s TouchStatus) Valid() bool {
	switch s {
	case TouchSent, TouchBlocked, TouchFailed:
		return true
	}
	return false
}

// DirectTemplate stands in for the template id of ad hoc sends when the
// idempotency key is derived.
const DirectTemplate = "direct"

// OutboundTouch records every attempt made through the gate. Only rows with
// status sent count toward frequency caps.
type OutboundTouch struct {
	ID             string      `json:"id" db:"id"`
	ContactID      string      `json:"contact_id" db:"contact_id"`
	Channel        Channel     `json:"channel" db:"channel"`
	Status         TouchStatus `json:"status" db:"status"`
	IdempotencyKey string      `json:"idempotency_key" db:"idempotency_key"`
	TemplateID     string      `json:"template_id,omitempty" db:"template_id"`
	CallID         string      `json:"call_id,omitempty" db:"call_id"`
	BlockReason    ReasonCode  `json:"block_reason,omitempty" db:"block_reason"`
	ActorModule    string      `json:"actor_module,omitempty" db:"actor_module"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}
