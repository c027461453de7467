package domain

import "time"

// ControlEmergencyStop is the system_controls key of the process-wide kill
// switch.
const ControlEmergencyStop = "emergency_stop"

// SystemControl is a named process-wide switch.
type SystemControl struct {
	Key       string    `json:"key" db:"key"`
	Active    bool      `json:"active" db:"active"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
