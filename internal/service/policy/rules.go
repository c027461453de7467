package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Rule is one decoded compliance rule. The concrete type tells the caller
// which evaluator applies.
type Rule interface {
	Key() string
	Enforcement() domain.Enforcement
	Priority() int
}

type ruleMeta struct {
	key         string
	enforcement domain.Enforcement
	priority    int
}

func (m ruleMeta) Key() string                     { return m.key }
func (m ruleMeta) Enforcement() domain.Enforcement { return m.enforcement }
func (m ruleMeta) Priority() int                   { return m.priority }

// Scope values for RateLimitRule besides channel names and action types.
const ScopeTotal = "total"

// RateLimitRule caps how many events may happen inside a trailing window.
// Scope is a channel name, ScopeTotal, or an automated action type.
type RateLimitRule struct {
	ruleMeta
	Scope  string
	Limit  int
	Window time.Duration
}

// TimeRestrictionRule forbids outreach before BeforeHour, from AfterHour on,
// or on any excluded weekday. An empty Channel applies to every channel.
type TimeRestrictionRule struct {
	ruleMeta
	Channel      domain.Channel
	BeforeHour   *int
	AfterHour    *int
	ExcludedDays []time.Weekday
}

// Blocks reports whether the rule forbids outreach at the given local time.
func (r TimeRestrictionRule) Blocks(local time.Time) bool {
	for _, d := range r.ExcludedDays {
		if local.Weekday() == d {
			return true
		}
	}
	if r.BeforeHour != nil && local.Hour() < *r.BeforeHour {
		return true
	}
	if r.AfterHour != nil && local.Hour() >= *r.AfterHour {
		return true
	}
	return false
}

// AppliesTo reports whether the rule covers the channel.
func (r TimeRestrictionRule) AppliesTo(ch domain.Channel) bool {
	return r.Channel == "" || r.Channel == ch
}

// ConsentRule states which consent type a channel requires.
type ConsentRule struct {
	ruleMeta
	Channel     domain.Channel
	ConsentType string
	Required    bool
}

// SpendCapRule caps cumulative spend for a scope inside a trailing window.
type SpendCapRule struct {
	ruleMeta
	Scope  string
	Amount float64
	Window time.Duration
}

// CallingHoursRule overrides the legal call window, [StartHour, EndHour).
type CallingHoursRule struct {
	ruleMeta
	StartHour int
	EndHour   int
}

type rateLimitPayload struct {
	Scope         string `json:"scope"`
	Channel       string `json:"channel"`
	Action        string `json:"action"`
	Limit         *int   `json:"limit"`
	WindowHours   int    `json:"window_hours"`
	WindowMinutes int    `json:"window_minutes"`
}

type timeRestrictionPayload struct {
	Channel      string   `json:"channel"`
	BeforeHour   *int     `json:"before_hour"`
	AfterHour    *int     `json:"after_hour"`
	ExcludedDays []string `json:"excluded_days"`
}

type consentPayload struct {
	Channel     string `json:"channel"`
	ConsentType string `json:"consent_type"`
	Required    *bool  `json:"required"`
}

type spendCapPayload struct {
	Scope       string   `json:"scope"`
	Amount      *float64 `json:"amount"`
	WindowHours int      `json:"window_hours"`
}

type callingHoursPayload struct {
	StartHour *int `json:"start_hour"`
	EndHour   *int `json:"end_hour"`
}

// Decode converts a stored rule into its typed form. It is called once per
// row when the catalog is loaded.
func Decode(raw domain.ComplianceRule) (Rule, error) {
	meta := ruleMeta{key: raw.RuleKey, enforcement: raw.EnforcementLevel, priority: raw.Priority}
	switch meta.enforcement {
	case domain.EnforceBlock, domain.EnforceWarn, domain.EnforceLog:
	case "":
		meta.enforcement = domain.EnforceBlock
	default:
		return nil, fmt.Errorf("%w: %s: enforcement level %q", ErrInvalidRule, raw.RuleKey, raw.EnforcementLevel)
	}

	switch raw.RuleType {
	case domain.RuleTypeRateLimit, domain.RuleTypeFrequencyCap:
		return decodeRateLimit(meta, raw.RuleValue)
	case domain.RuleTypeTimeRestriction:
		return decodeTimeRestriction(meta, raw.RuleValue)
	case domain.RuleTypeConsent:
		return decodeConsent(meta, raw.RuleValue)
	case domain.RuleTypeSpendCap:
		return decodeSpendCap(meta, raw.RuleValue)
	case domain.RuleTypeCallingHours:
		return decodeCallingHours(meta, raw.RuleValue)
	}
	return nil, fmt.Errorf("%w: %s: %q", ErrUnknownRuleType, raw.RuleKey, raw.RuleType)
}

func unmarshal(key string, data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: empty rule_value", ErrInvalidRule, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRule, key, err)
	}
	return nil
}

func invalid(key, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRule, key, fmt.Sprintf(format, args...))
}

func decodeRateLimit(meta ruleMeta, data json.RawMessage) (Rule, error) {
	var p rateLimitPayload
	if err := unmarshal(meta.key, data, &p); err != nil {
		return nil, err
	}
	scope := firstNonEmpty(p.Scope, p.Channel, p.Action)
	if scope == "" {
		scope = scopeFromKey(meta.key)
	}
	if scope == "" {
		return nil, invalid(meta.key, "missing scope")
	}
	if p.Limit == nil || *p.Limit < 0 {
		return nil, invalid(meta.key, "limit must be >= 0")
	}
	window := time.Duration(p.WindowHours)*time.Hour + time.Duration(p.WindowMinutes)*time.Minute
	if window <= 0 {
		return nil, invalid(meta.key, "window must be positive")
	}
	return RateLimitRule{ruleMeta: meta, Scope: scope, Limit: *p.Limit, Window: window}, nil
}

func decodeTimeRestriction(meta ruleMeta, data json.RawMessage) (Rule, error) {
	var p timeRestrictionPayload
	if err := unmarshal(meta.key, data, &p); err != nil {
		return nil, err
	}
	r := TimeRestrictionRule{ruleMeta: meta, BeforeHour: p.BeforeHour, AfterHour: p.AfterHour}
	if p.Channel != "" {
		ch := domain.Channel(p.Channel)
		if !ch.Valid() {
			return nil, invalid(meta.key, "unknown channel %q", p.Channel)
		}
		r.Channel = ch
	}
	if !validHour(p.BeforeHour) || !validHour(p.AfterHour) {
		return nil, invalid(meta.key, "hours must be within 0..24")
	}
	for _, d := range p.ExcludedDays {
		wd, ok := parseWeekday(d)
		if !ok {
			return nil, invalid(meta.key, "unknown weekday %q", d)
		}
		r.ExcludedDays = append(r.ExcludedDays, wd)
	}
	if r.BeforeHour == nil && r.AfterHour == nil && len(r.ExcludedDays) == 0 {
		return nil, invalid(meta.key, "restriction has no condition")
	}
	return r, nil
}

func decodeConsent(meta ruleMeta, data json.RawMessage) (Rule, error) {
	var p consentPayload
	if err := unmarshal(meta.key, data, &p); err != nil {
		return nil, err
	}
	ch := domain.Channel(firstNonEmpty(p.Channel, scopeFromKey(meta.key)))
	if !ch.Valid() {
		return nil, invalid(meta.key, "unknown channel %q", ch)
	}
	required := p.Required == nil || *p.Required
	return ConsentRule{ruleMeta: meta, Channel: ch, ConsentType: p.ConsentType, Required: required}, nil
}

func decodeSpendCap(meta ruleMeta, data json.RawMessage) (Rule, error) {
	var p spendCapPayload
	if err := unmarshal(meta.key, data, &p); err != nil {
		return nil, err
	}
	scope := firstNonEmpty(p.Scope, scopeFromKey(meta.key))
	if scope == "" {
		return nil, invalid(meta.key, "missing scope")
	}
	if p.Amount == nil || *p.Amount < 0 {
		return nil, invalid(meta.key, "amount must be >= 0")
	}
	if p.WindowHours <= 0 {
		p.WindowHours = 24
	}
	return SpendCapRule{ruleMeta: meta, Scope: scope, Amount: *p.Amount, Window: time.Duration(p.WindowHours) * time.Hour}, nil
}

func decodeCallingHours(meta ruleMeta, data json.RawMessage) (Rule, error) {
	var p callingHoursPayload
	if err := unmarshal(meta.key, data, &p); err != nil {
		return nil, err
	}
	if p.StartHour == nil || p.EndHour == nil {
		return nil, invalid(meta.key, "start_hour and end_hour are required")
	}
	if !validHour(p.StartHour) || !validHour(p.EndHour) || *p.StartHour >= *p.EndHour {
		return nil, invalid(meta.key, "need 0 <= start_hour < end_hour <= 24")
	}
	return CallingHoursRule{ruleMeta: meta, StartHour: *p.StartHour, EndHour: *p.EndHour}, nil
}

func validHour(h *int) bool {
	return h == nil || (*h >= 0 && *h <= 24)
}

// scopeFromKey derives "sms" from keys such as "freq_cap.sms".
func scopeFromKey(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 && i < len(key)-1 {
		return key[i+1:]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday, "0": time.Sunday,
	"monday": time.Monday, "mon": time.Monday, "1": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "2": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday, "3": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "4": time.Thursday,
	"friday": time.Friday, "fri": time.Friday, "5": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday, "6": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}
