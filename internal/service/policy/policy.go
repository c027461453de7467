package policy

import (
	"sort"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
)

// Cap is a count allowed inside a trailing window.
type Cap struct {
	Limit       int
	Window      time.Duration
	Enforcement domain.Enforcement
	RuleKey     string
}

// Defaults are the values a Policy falls back to for anything the catalog
// does not override.
type Defaults struct {
	// ChannelCaps is keyed by channel name plus ScopeTotal.
	ChannelCaps    map[string]Cap
	CallStartHour  int
	CallEndHour    int
	ConsentType    string
	RequireConsent bool
}

// DefaultDefaults is the documented fallback: sms 3/24h, email 1/24h,
// voice 2/24h, total 5/24h, calls between 08:00 and 21:00 local.
func DefaultDefaults() Defaults {
	day := 24 * time.Hour
	return Defaults{
		ChannelCaps: map[string]Cap{
			string(domain.ChannelSMS):   {Limit: 3, Window: day, Enforcement: domain.EnforceBlock},
			string(domain.ChannelEmail): {Limit: 1, Window: day, Enforcement: domain.EnforceBlock},
			string(domain.ChannelVoice): {Limit: 2, Window: day, Enforcement: domain.EnforceBlock},
			ScopeTotal:                  {Limit: 5, Window: day, Enforcement: domain.EnforceBlock},
		},
		CallStartHour:  8,
		CallEndHour:    21,
		RequireConsent: true,
	}
}

// Policy is an immutable, decoded snapshot of the rule catalog.
type Policy struct {
	defaults      Defaults
	rateLimits    map[string]RateLimitRule
	restrictions  []TimeRestrictionRule
	consent       map[domain.Channel]ConsentRule
	spendCaps     map[string]SpendCapRule
	callingHours  *CallingHoursRule
	lockdownRules []domain.LockdownRule
	loadedAt      time.Time
	isDefault     bool
}

// DefaultPolicy returns the policy used when no catalog has ever loaded.
func DefaultPolicy(d Defaults) *Policy {
	p := newPolicy(d)
	p.isDefault = true
	return p
}

func newPolicy(d Defaults) *Policy {
	if d.ChannelCaps == nil {
		d.ChannelCaps = DefaultDefaults().ChannelCaps
	}
	if d.CallEndHour == 0 {
		d.CallStartHour, d.CallEndHour = 8, 21
	}
	return &Policy{
		defaults:   d,
		rateLimits: make(map[string]RateLimitRule),
		consent:    make(map[domain.Channel]ConsentRule),
		spendCaps:  make(map[string]SpendCapRule),
	}
}

// Build assembles a Policy from decoded rules. When two rules share a scope
// the higher priority wins.
func Build(d Defaults, rules []Rule, lockdownRules []domain.LockdownRule, loadedAt time.Time) *Policy {
	p := newPolicy(d)
	p.loadedAt = loadedAt
	p.lockdownRules = lockdownRules

	for _, r := range rules {
		switch v := r.(type) {
		case RateLimitRule:
			if cur, ok := p.rateLimits[v.Scope]; !ok || v.Priority() > cur.Priority() {
				p.rateLimits[v.Scope] = v
			}
		case TimeRestrictionRule:
			p.restrictions = append(p.restrictions, v)
		case ConsentRule:
			if cur, ok := p.consent[v.Channel]; !ok || v.Priority() > cur.Priority() {
				p.consent[v.Channel] = v
			}
		case SpendCapRule:
			if cur, ok := p.spendCaps[v.Scope]; !ok || v.Priority() > cur.Priority() {
				p.spendCaps[v.Scope] = v
			}
		case CallingHoursRule:
			if p.callingHours == nil || v.Priority() > p.callingHours.Priority() {
				ch := v
				p.callingHours = &ch
			}
		}
	}

	sort.SliceStable(p.restrictions, func(i, j int) bool {
		if p.restrictions[i].Priority() != p.restrictions[j].Priority() {
			return p.restrictions[i].Priority() > p.restrictions[j].Priority()
		}
		return p.restrictions[i].Key() < p.restrictions[j].Key()
	})
	return p
}

// IsDefault reports whether this is the fallback policy.
func (p *Policy) IsDefault() bool { return p.isDefault }

// LoadedAt is when the catalog snapshot was read.
func (p *Policy) LoadedAt() time.Time { return p.loadedAt }

// ChannelCap returns the frequency cap for one channel.
func (p *Policy) ChannelCap(ch domain.Channel) Cap {
	return p.capFor(string(ch))
}

// TotalCap returns the cross-channel frequency cap.
func (p *Policy) TotalCap() Cap {
	return p.capFor(ScopeTotal)
}

func (p *Policy) capFor(scope string) Cap {
	if r, ok := p.rateLimits[scope]; ok {
		return Cap{Limit: r.Limit, Window: r.Window, Enforcement: r.Enforcement(), RuleKey: r.Key()}
	}
	if c, ok := p.defaults.ChannelCaps[scope]; ok {
		if c.Enforcement == "" {
			c.Enforcement = domain.EnforceBlock
		}
		return c
	}
	// Unknown scopes get no allowance rather than an unlimited one.
	return Cap{Limit: 0, Window: 24 * time.Hour, Enforcement: domain.EnforceBlock}
}

// ActionRateLimit returns the rate limit for an automated action type, if
// the catalog defines one.
func (p *Policy) ActionRateLimit(action string) (Cap, bool) {
	r, ok := p.rateLimits[action]
	if !ok {
		return Cap{}, false
	}
	return Cap{Limit: r.Limit, Window: r.Window, Enforcement: r.Enforcement(), RuleKey: r.Key()}, true
}

// CallingHours returns the legal call window [start, end) in local hours.
func (p *Policy) CallingHours() (start, end int) {
	if p.callingHours != nil {
		return p.callingHours.StartHour, p.callingHours.EndHour
	}
	return p.defaults.CallStartHour, p.defaults.CallEndHour
}

// TimeRestrictions returns the restrictions covering ch, highest priority first.
func (p *Policy) TimeRestrictions(ch domain.Channel) []TimeRestrictionRule {
	var out []TimeRestrictionRule
	for _, r := range p.restrictions {
		if r.AppliesTo(ch) {
			out = append(out, r)
		}
	}
	return out
}

// ConsentRequirement returns the consent rule for ch. Without a catalog
// rule, consent is required with any consent type.
func (p *Policy) ConsentRequirement(ch domain.Channel) ConsentRule {
	if r, ok := p.consent[ch]; ok {
		return r
	}
	return ConsentRule{
		ruleMeta:    ruleMeta{key: "consent.default", enforcement: domain.EnforceBlock},
		Channel:     ch,
		ConsentType: p.defaults.ConsentType,
		Required:    p.defaults.RequireConsent,
	}
}

// SpendCap returns the spend cap for scope, if any.
func (p *Policy) SpendCap(scope string) (SpendCapRule, bool) {
	r, ok := p.spendCaps[scope]
	return r, ok
}

// LockdownRules returns the active lockdown rules captured with this snapshot.
func (p *Policy) LockdownRules() []domain.LockdownRule {
	return p.lockdownRules
}
