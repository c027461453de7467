package domain

import (
	"encoding/json"
	"time"
)

// Enforcement is how strictly a compliance rule is applied.
type Enforcement string

const (
	EnforceBlock Enforcement = "block"
	EnforceWarn  Enforcement = "warn"
	EnforceLog   Enforcement = "log"
)

// Rule types stored in compliance_rules.rule_type.
const (
	RuleTypeRateLimit       = "rate_limit"
	RuleTypeTimeRestriction = "time_restriction"
	RuleTypeConsent         = "consent"
	RuleTypeSpendCap        = "spend_cap"
	RuleTypeCallingHours    = "calling_hours"
	RuleTypeFrequencyCap    = "frequency_cap"
)

// ComplianceRule is a generic keyed rule as stored. RuleValue is a JSON
// payload whose shape depends on RuleType; it is decoded once when the
// policy catalog is loaded.
type ComplianceRule struct {
	ID               string          `json:"id" db:"id"`
	RuleKey          string          `json:"rule_key" db:"rule_key"`
	RuleType         string          `json:"rule_type" db:"rule_type"`
	RuleValue        json.RawMessage `json:"rule_value" db:"rule_value"`
	EnforcementLevel Enforcement     `json:"enforcement_level" db:"enforcement_level"`
	Priority         int             `json:"priority" db:"priority"`
	IsActive         bool            `json:"is_active" db:"is_active"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}
