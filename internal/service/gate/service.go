package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ignite/compliance-gate/internal/config"
	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
	"github.com/ignite/compliance-gate/internal/telemetry"
)

// Config is the gate's per-request behaviour.
type Config struct {
	// AgentType is the actor checked against lockdowns when a call does not
	// name one.
	AgentType        string
	EnforceCallHours bool
	// StrictCaps reserves frequency-cap slots atomically in Counter before
	// a send. Without it caps are best effort.
	StrictCaps  bool
	ReadTimeout time.Duration
}

// ConfigFrom maps the service configuration onto the gate.
func ConfigFrom(c config.GateConfig) Config {
	return Config{
		AgentType:        c.AgentType,
		EnforceCallHours: c.CallHoursEnforced(),
		StrictCaps:       c.StrictCaps,
		ReadTimeout:      c.SafetyReadTimeout(),
	}
}

// Dependencies are the gate's collaborators. Counter and Spend are optional.
type Dependencies struct {
	Contacts      ContactRepository
	EmergencyStop EmergencyStop
	Lockdowns     LockdownChecker
	Consent       ConsentChecker
	Touches       TouchRecorder
	Windows       WindowChecker
	Policies      PolicySource
	Audit         AuditTrail
	Counter       touch.WindowCounter
	Spend         SpendTracker
}

// Gate is the compliance admission check. It holds no per-request state and
// is safe for concurrent use.
type Gate struct {
	cfg    Config
	deps   Dependencies
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a gate.
func New(cfg Config, deps Dependencies) *Gate {
	if cfg.AgentType == "" {
		cfg.AgentType = "outbound"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	return &Gate{cfg: cfg, deps: deps, tracer: telemetry.Tracer(), now: time.Now}
}

// WithClock overrides the gate clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CheckOptions tunes one AssertCanContact call.
type CheckOptions struct {
	// ConsentType narrows the consent check. Types prefixed "ai" produce
	// NO_AI_CONSENT when missing.
	ConsentType string `json:"consent_type,omitempty"`
	// RequireConsent overrides the consent rule when set.
	RequireConsent *bool `json:"require_consent,omitempty"`
	// Actor is the agent checked against lockdowns.
	Actor string `json:"actor,omitempty"`
	// RespectBusinessHours additionally holds the attempt to business hours,
	// calendar blocks and time restriction rules.
	RespectBusinessHours bool `json:"respect_business_hours,omitempty"`
}

// CheckResult is the gate's decision.
type CheckResult struct {
	Allowed        bool                       `json:"allowed"`
	Reason         domain.ReasonCode          `json:"reason,omitempty"`
	Message        string                     `json:"message"`
	RuleKey        string                     `json:"rule_key,omitempty"`
	ChannelTouches *int                       `json:"channel_touches,omitempty"`
	TotalTouches   *int                       `json:"total_touches,omitempty"`
	CallHours      *timewindow.CallHourResult `json:"call_hours,omitempty"`
	Warnings       []string                   `json:"warnings,omitempty"`
	CheckedAt      time.Time                  `json:"checked_at"`
}

func (r *CheckResult) block(reason domain.ReasonCode, msg string) {
	r.Allowed = false
	r.Reason = reason
	if msg == "" {
		msg = reason.Message()
	}
	r.Message = msg
}

// AssertCanContact runs the ordered admission pipeline. The error is non-nil
// only for invalid input; every other failure is a blocked result.
func (g *Gate) AssertCanContact(ctx context.Context, contactID string, channel domain.Channel, opts CheckOptions) (CheckResult, error) {
	if strings.TrimSpace(contactID) == "" {
		return CheckResult{}, fmt.Errorf("%w: contact id is required", ErrValidation)
	}
	if !channel.Valid() {
		return CheckResult{}, fmt.Errorf("%w: channel %q", ErrValidation, channel)
	}

	ctx, span := g.tracer.Start(ctx, "gate.AssertCanContact", trace.WithAttributes(
		attribute.String("contact.id", contactID),
		attribute.String("channel", string(channel)),
	))
	defer span.End()

	now := g.now()
	res := g.evaluate(ctx, contactID, channel, opts, now)
	res.CheckedAt = now.UTC()

	span.SetAttributes(attribute.Bool("gate.allowed", res.Allowed), attribute.String("gate.reason", string(res.Reason)))
	if !res.Allowed {
		logger.Info("contact blocked", "contact_id", contactID, "channel", string(channel), "reason", string(res.Reason))
	}
	return res, nil
}

func (g *Gate) evaluate(ctx context.Context, contactID string, channel domain.Channel, opts CheckOptions, now time.Time) CheckResult {
	res := CheckResult{Allowed: true}
	actor := opts.Actor
	if actor == "" {
		actor = g.cfg.AgentType
	}

	// 0. Emergency stop.
	active, err := g.deps.EmergencyStop.Active(ctx)
	if err != nil {
		logger.Error("emergency stop unreadable, blocking", "error", err)
		active = true
	}
	if active {
		res.block(domain.ReasonEmergencyStop, "")
		return res
	}

	// 1. Lockdown.
	if locked, l := g.deps.Lockdowns.IsLocked(ctx, actor); locked {
		msg := domain.ReasonLockdown.Message()
		if l != nil {
			msg = fmt.Sprintf("Agent %s is locked down: %s", actor, l.Reason)
		}
		res.block(domain.ReasonLockdown, msg)
		return res
	}

	// 2. Suppression.
	if g.deps.Consent.IsContactSuppressed(ctx, contactID, channel) {
		res.block(domain.ReasonSuppressed, "")
		return res
	}

	contact, err := g.contact(ctx, contactID)
	if err != nil {
		logger.Error("contact unreadable, blocking", "contact_id", contactID, "error", err)
		res.block(domain.ReasonDNC, "Contact not found or unreadable")
		return res
	}
	if contact.DoNotContact {
		res.block(domain.ReasonDNC, "")
		return res
	}

	pol := g.deps.Policies.Current(ctx)

	// 3. Consent.
	rule := pol.ConsentRequirement(channel)
	required := rule.Required
	if opts.RequireConsent != nil {
		required = *opts.RequireConsent
	}
	consentType := opts.ConsentType
	if consentType == "" {
		consentType = rule.ConsentType
	}
	if required && !g.deps.Consent.HasValidConsent(ctx, contactID, channel, consentType) {
		reason := domain.ReasonNoConsent
		if strings.HasPrefix(consentType, "ai") {
			reason = domain.ReasonNoAIConsent
		}
		if opts.RequireConsent == nil && rule.Enforcement() != domain.EnforceBlock {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", reason, rule.Key()))
		} else {
			res.block(reason, "")
			res.RuleKey = rule.Key()
			return res
		}
	}

	// Legal call hours apply to voice only.
	if channel == domain.ChannelVoice && g.cfg.EnforceCallHours {
		ch := g.deps.Windows.CheckContactCallHours(ctx, *contact, now)
		res.CallHours = &ch
		if !ch.Allowed {
			res.block(domain.ReasonCallTimeRestriction, fmt.Sprintf(
				"Local time %s in %s is outside calling hours %02d:00-%02d:00",
				ch.LocalTime.Format("15:04"), ch.Timezone, ch.StartHour, ch.EndHour))
			return res
		}
	}

	// 4. Channel frequency cap.
	chCap := pol.ChannelCap(channel)
	chCount := g.deps.Touches.GetTouchCount(ctx, contactID, channel, chCap.Window)
	if g.overCap(&res, chCap, chCount, domain.ReasonFrequencyCapChannel,
		fmt.Sprintf("%s cap reached: %s", channel, countText(chCount, chCap))) {
		return res
	}

	// 5. Total frequency cap.
	totalCap := pol.TotalCap()
	totalCount := g.deps.Touches.GetTouchCount(ctx, contactID, "", totalCap.Window)
	if g.overCap(&res, totalCap, totalCount, domain.ReasonFrequencyCapTotal,
		fmt.Sprintf("total cap reached: %s", countText(totalCount, totalCap))) {
		return res
	}

	// Business context, when the caller opts in.
	if opts.RespectBusinessHours {
		bc := g.deps.Windows.CheckBusinessContext(ctx, channel, now)
		res.Warnings = append(res.Warnings, bc.Warnings...)
		if !bc.CanOutreach {
			res.block(domain.ReasonCallTimeRestriction, strings.Join(bc.Reasons, "; "))
			res.RuleKey = bc.BlockingRule
			return res
		}
	}

	res.ChannelTouches = &chCount
	res.TotalTouches = &totalCount
	res.Message = "Contact allowed"
	return res
}

// overCap blocks res when count has reached the cap, or records a warning
// for non-blocking caps. It reports whether res was blocked.
func (g *Gate) overCap(res *CheckResult, c policy.Cap, count int, reason domain.ReasonCode, msg string) bool {
	if count < c.Limit {
		return false
	}
	if c.Enforcement != domain.EnforceBlock {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", reason, msg))
		return false
	}
	res.block(reason, msg)
	res.RuleKey = c.RuleKey
	return true
}

func countText(count int, c policy.Cap) string {
	if count == touch.CountSentinel {
		return "count unavailable"
	}
	return fmt.Sprintf("%d/%d in %s", count, c.Limit, c.Window)
}

func (g *Gate) contact(ctx context.Context, id string) (*domain.Contact, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ReadTimeout)
	defer cancel()

	c, err := g.deps.Contacts.GetContact(ctx, id)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrContactNotFound
	}
	return c, nil
}

// IsValidation reports whether err is an input validation failure from any
// gate collaborator.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, touch.ErrValidation)
}
