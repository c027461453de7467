package gate_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/notify"
	"github.com/ignite/compliance-gate/internal/repository/memory"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/consent"
	"github.com/ignite/compliance-gate/internal/service/gate"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// Tuesday 15:00 UTC: 10:00 in New York, 07:00 in San Francisco.
var testNow = time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

type harness struct {
	store    *memory.Store
	now      time.Time
	windows  *timewindow.Evaluator
	policies *policy.Store
	consent  *consent.Ledger
	touches  *touch.Ledger
	trail    *audit.Trail
	monitor  *lockdown.Monitor
	estop    *gate.EmergencySwitch
	gate     *gate.Gate
	redis    *redis.Client
	mr       *miniredis.Miniredis
}

type option func(*gate.Config, *gate.Dependencies, *harness)

func withStrictCaps() option {
	return func(c *gate.Config, d *gate.Dependencies, h *harness) {
		c.StrictCaps = true
		d.Counter = touch.NewRedisWindowCounter(h.redisClient()).WithClock(h.clock)
	}
}

func withSpendTracker() option {
	return func(_ *gate.Config, d *gate.Dependencies, h *harness) {
		d.Spend = gate.NewRedisSpendTracker(h.redisClient()).WithClock(h.clock)
	}
}

// withContextAwareTouches records touches through a repository that fails
// once its context is done, the way database/sql does.
func withContextAwareTouches() option {
	return func(_ *gate.Config, d *gate.Dependencies, h *harness) {
		h.touches = touch.NewLedger(ctxTouchRepo{h.store}, 100*time.Millisecond).WithClock(h.clock)
		d.Touches = h.touches
	}
}

// withCatalog swaps the rule catalog for repo, read under a short bound.
func withCatalog(repo policy.Repository) option {
	return func(_ *gate.Config, d *gate.Dependencies, h *harness) {
		h.policies = policy.NewStore(repo, policy.DefaultDefaults(), 0).
			WithClock(h.clock).
			WithLookupTimeout(20 * time.Millisecond)
		d.Policies = h.policies
	}
}

type ctxTouchRepo struct{ *memory.Store }

func (r ctxTouchRepo) InsertTouch(ctx context.Context, t *domain.OutboundTouch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Store.InsertTouch(ctx, t)
}

type hangingCatalog struct{}

func (hangingCatalog) ListActiveComplianceRules(ctx context.Context) ([]domain.ComplianceRule, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingCatalog) ListActiveLockdownRules(ctx context.Context) ([]domain.LockdownRule, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{store: memory.NewStore(), now: testNow}

	table, err := timewindow.NewAreaCodeTable(nil, "America/New_York")
	require.NoError(t, err)

	h.policies = policy.NewStore(h.store, policy.DefaultDefaults(), 0).WithClock(h.clock)
	h.consent = consent.NewLedger(h.store, 100*time.Millisecond).WithClock(h.clock)
	h.touches = touch.NewLedger(h.store, 100*time.Millisecond).WithClock(h.clock)
	h.trail = audit.NewTrail(h.store).WithClock(h.clock)
	h.monitor = lockdown.NewMonitor(h.store, h.policies, h.trail, notify.Noop{}, 100*time.Millisecond).WithClock(h.clock)
	h.estop = gate.NewEmergencySwitch(h.store, nil, 0, 100*time.Millisecond).WithAudit(h.trail).WithClock(h.clock)
	h.windows = timewindow.NewEvaluator(table, h.store, h.policies)

	cfg := gate.Config{AgentType: "outbound", EnforceCallHours: true, ReadTimeout: 100 * time.Millisecond}
	deps := gate.Dependencies{
		Contacts:      h.store,
		EmergencyStop: h.estop,
		Lockdowns:     h.monitor,
		Consent:       h.consent,
		Touches:       h.touches,
		Windows:       h.windows,
		Policies:      h.policies,
		Audit:         h.trail,
	}
	for _, o := range opts {
		o(&cfg, &deps, h)
	}
	h.gate = gate.New(cfg, deps).WithClock(h.clock)

	t.Cleanup(func() {
		if h.redis != nil {
			h.redis.Close()
			h.mr.Close()
		}
	})
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) redisClient() *redis.Client {
	if h.redis == nil {
		mr, err := miniredis.Run()
		if err != nil {
			panic(err)
		}
		h.mr = mr
		h.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	return h.redis
}

// contact seeds a reachable contact with consent on every channel.
func (h *harness) contact(t *testing.T, id, phone string) {
	t.Helper()
	h.store.PutContact(domain.Contact{ID: id, Email: id + "@example.com", Phone: phone})
	for _, ch := range domain.AllChannels() {
		_, err := h.consent.GrantConsent(context.Background(), id, ch, domain.ConsentExpress, "test")
		require.NoError(t, err)
	}
}

func (h *harness) sent(t *testing.T, id string, ch domain.Channel, template string, at time.Time) {
	t.Helper()
	res := h.touches.RecordOutboundTouch(context.Background(), touch.Params{
		ContactID: id, Channel: ch, TemplateID: template, Status: domain.TouchSent, At: at,
	})
	require.True(t, res.Success, res.Error)
}

func (h *harness) check(t *testing.T, id string, ch domain.Channel, opts gate.CheckOptions) gate.CheckResult {
	t.Helper()
	res, err := h.gate.AssertCanContact(context.Background(), id, ch, opts)
	require.NoError(t, err)
	return res
}

func boolPtr(b bool) *bool { return &b }

func rule(t *testing.T, key, ruleType string, enforcement domain.Enforcement, value interface{}) domain.ComplianceRule {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	return domain.ComplianceRule{
		RuleKey: key, RuleType: ruleType, RuleValue: raw, EnforcementLevel: enforcement, IsActive: true,
	}
}

// ---------------------------------------------------------------------------
// AssertCanContact
// ---------------------------------------------------------------------------

func TestAssertCanContactAllowed(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
	require.NotNil(t, res.ChannelTouches)
	require.NotNil(t, res.TotalTouches)
	assert.Equal(t, 0, *res.ChannelTouches)
	assert.Equal(t, testNow, res.CheckedAt)
}

func TestAssertCanContactValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.gate.AssertCanContact(context.Background(), " ", domain.ChannelSMS, gate.CheckOptions{})
	assert.ErrorIs(t, err, gate.ErrValidation)

	_, err = h.gate.AssertCanContact(context.Background(), "c1", domain.ChannelAll, gate.CheckOptions{})
	assert.ErrorIs(t, err, gate.ErrValidation)
	assert.True(t, gate.IsValidation(err))
}

func TestAllScopeSuppressionBlocksEveryChannel(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	require.NoError(t, h.consent.Suppress(context.Background(), "c1", domain.ChannelAll, domain.ReasonOptOut, "sms-stop"))

	for _, ch := range domain.AllChannels() {
		res := h.check(t, "c1", ch, gate.CheckOptions{RequireConsent: boolPtr(false)})
		assert.False(t, res.Allowed, ch)
		assert.Equal(t, domain.ReasonSuppressed, res.Reason, ch)
	}
}

func TestChannelSuppressionOnlyCoversChannel(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	require.NoError(t, h.consent.Suppress(context.Background(), "c1", domain.ChannelEmail, domain.ReasonHardBounce, "ses"))

	assert.Equal(t, domain.ReasonSuppressed, h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{}).Reason)
	assert.True(t, h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{}).Allowed)
}

func TestEmergencyStopBlocksEverything(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	ctx := context.Background()

	_, err := h.estop.Set(ctx, true, "ops@example.com", "carrier incident")
	require.NoError(t, err)

	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonEmergencyStop, res.Reason)

	_, err = h.estop.Set(ctx, false, "ops@example.com", "resolved")
	require.NoError(t, err)
	assert.True(t, h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{}).Allowed)
}

func TestDatastoreFailureFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	h.store.SetError(errors.New("connection refused"))

	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonEmergencyStop, res.Reason)
}

func TestCancelledContextFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.gate.AssertCanContact(ctx, "c1", domain.ChannelSMS, gate.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestUnknownContactBlocksAsDNC(t *testing.T) {
	h := newHarness(t)

	res := h.check(t, "ghost", domain.ChannelSMS, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonDNC, res.Reason)
	assert.Equal(t, "Contact not found or unreadable", res.Message)
}

func TestDoNotContactFlag(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	h.store.PutContact(domain.Contact{ID: "c1", Phone: "212-555-0100", DoNotContact: true})

	assert.Equal(t, domain.ReasonDNC, h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{}).Reason)
}

func TestConsentRequired(t *testing.T) {
	h := newHarness(t)
	h.store.PutContact(domain.Contact{ID: "c1", Phone: "212-555-0100"})
	ctx := context.Background()

	res := h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{RequireConsent: boolPtr(true)})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonNoConsent, res.Reason)

	_, err := h.consent.GrantConsent(ctx, "c1", domain.ChannelVoice, domain.ConsentExpress, "web-form")
	require.NoError(t, err)
	assert.True(t, h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{RequireConsent: boolPtr(true)}).Allowed)

	// Revoked consent is never valid.
	require.NoError(t, h.consent.RevokeConsent(ctx, "c1", domain.ChannelVoice, ""))
	assert.Equal(t, domain.ReasonNoConsent, h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{}).Reason)

	// Explicit opt-out of the consent check.
	assert.True(t, h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{RequireConsent: boolPtr(false)}).Allowed)
}

func TestAIConsentReason(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	res := h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{ConsentType: domain.ConsentAIVoice})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonNoAIConsent, res.Reason)

	_, err := h.consent.GrantConsent(context.Background(), "c1", domain.ChannelVoice, domain.ConsentAIVoice, "ivr")
	require.NoError(t, err)
	assert.True(t, h.check(t, "c1", domain.ChannelVoice, gate.CheckOptions{ConsentType: domain.ConsentAIVoice}).Allowed)
}

func TestConsentRuleWarnDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	h.store.PutContact(domain.Contact{ID: "c1", Email: "c1@example.com"})
	h.store.AddComplianceRule(rule(t, "consent.email", domain.RuleTypeConsent, domain.EnforceWarn,
		map[string]interface{}{"channel": "email", "required": true}))

	res := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{})
	assert.True(t, res.Allowed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "consent.email")
}

func TestChannelFrequencyCap(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	first := testNow.Add(-23*time.Hour - 30*time.Minute)
	h.sent(t, "c1", domain.ChannelSMS, "a", first)
	h.sent(t, "c1", domain.ChannelSMS, "b", testNow.Add(-2*time.Hour))
	h.sent(t, "c1", domain.ChannelSMS, "c", testNow.Add(-time.Hour))

	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonFrequencyCapChannel, res.Reason)

	// The oldest touch ages out of the 24h window.
	h.now = first.Add(24*time.Hour + time.Minute)
	res = h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, *res.ChannelTouches)
}

func TestTotalFrequencyCap(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	h.sent(t, "c1", domain.ChannelSMS, "a", testNow.Add(-5*time.Hour))
	h.sent(t, "c1", domain.ChannelSMS, "b", testNow.Add(-4*time.Hour))
	h.sent(t, "c1", domain.ChannelVoice, "c", testNow.Add(-3*time.Hour))
	h.sent(t, "c1", domain.ChannelVoice, "d", testNow.Add(-2*time.Hour))
	h.sent(t, "c1", domain.ChannelEmail, "e", testNow.Add(-10*time.Hour))

	// sms is 2/3, but the total is 5/5.
	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonFrequencyCapTotal, res.Reason)
}

func TestFrequencyCapRuleOverridesDefault(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	h.store.AddComplianceRule(rule(t, "frequency.email", domain.RuleTypeFrequencyCap, domain.EnforceWarn,
		map[string]interface{}{"channel": "email", "limit": 1, "window_hours": 24}))
	h.sent(t, "c1", domain.ChannelEmail, "a", testNow.Add(-time.Hour))

	res := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{})
	assert.True(t, res.Allowed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], string(domain.ReasonFrequencyCapChannel))
}

func TestTouchCountFailureFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")

	// Only the count read fails: wrap the touch recorder.
	g := gate.New(gate.Config{}, gate.Dependencies{
		Contacts:      h.store,
		EmergencyStop: h.estop,
		Lockdowns:     h.monitor,
		Consent:       h.consent,
		Touches:       failingCounts{h.touches},
		Windows:       h.windows,
		Policies:      h.policies,
		Audit:         h.trail,
	}).WithClock(h.clock)

	res, err := g.AssertCanContact(context.Background(), "c1", domain.ChannelSMS, gate.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonFrequencyCapChannel, res.Reason)
	assert.Contains(t, res.Message, "count unavailable")
}

type failingCounts struct{ *touch.Ledger }

func (failingCounts) GetTouchCount(context.Context, string, domain.Channel, time.Duration) int {
	return touch.CountSentinel
}

func TestVoiceCallHours(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "sf", "415-555-0100")

	// 07:00 in San Francisco.
	res := h.check(t, "sf", domain.ChannelVoice, gate.CheckOptions{})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonCallTimeRestriction, res.Reason)
	require.NotNil(t, res.CallHours)
	assert.Equal(t, 7, res.CallHours.LocalHour)
	assert.Equal(t, "America/Los_Angeles", res.CallHours.Timezone)

	// SMS is not held to call hours.
	assert.True(t, h.check(t, "sf", domain.ChannelSMS, gate.CheckOptions{}).Allowed)

	// 10:00 in San Francisco.
	h.now = time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC)
	assert.True(t, h.check(t, "sf", domain.ChannelVoice, gate.CheckOptions{}).Allowed)

	// 22:00 in San Francisco.
	h.now = time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, domain.ReasonCallTimeRestriction, h.check(t, "sf", domain.ChannelVoice, gate.CheckOptions{}).Reason)
}

func TestRespectBusinessHours(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	h.store.AddCalendarBlock(domain.CalendarBlock{
		Title: "Company offsite", StartsAt: testNow.Add(-time.Hour), EndsAt: testNow.Add(time.Hour), IsActive: true,
	})

	res := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{RespectBusinessHours: true})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonCallTimeRestriction, res.Reason)
	assert.Contains(t, res.Message, "Company offsite")

	assert.True(t, h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{}).Allowed)
}

func TestFrequencyCapReportedBeforeBusinessHours(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	h.sent(t, "c1", domain.ChannelEmail, "welcome", testNow.Add(-time.Hour))
	h.store.AddCalendarBlock(domain.CalendarBlock{
		Title: "Company offsite", StartsAt: testNow.Add(-time.Hour), EndsAt: testNow.Add(time.Hour), IsActive: true,
	})

	res := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{RespectBusinessHours: true})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonFrequencyCapChannel, res.Reason)
}

func TestLockdownBlocksAgent(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	ctx := context.Background()

	l, err := h.monitor.ActivateManual(ctx, "sms-bot", "runaway campaign", "ops")
	require.NoError(t, err)

	res := h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{Actor: "sms-bot"})
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonLockdown, res.Reason)
	assert.Contains(t, res.Message, "runaway campaign")

	// Other agents are unaffected.
	assert.True(t, h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{Actor: "nurture"}).Allowed)

	_, err = h.monitor.Resolve(ctx, l.ID, "ops", "fixed")
	require.NoError(t, err)
	assert.True(t, h.check(t, "c1", domain.ChannelSMS, gate.CheckOptions{Actor: "sms-bot"}).Allowed)
}

func TestAllAgentLockdownShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	_, err := h.monitor.ActivateManual(context.Background(), domain.AgentAll, "incident", "ops")
	require.NoError(t, err)

	res := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{Actor: "anyone"})
	assert.Equal(t, domain.ReasonLockdown, res.Reason)
}

// ---------------------------------------------------------------------------
// Enforce
// ---------------------------------------------------------------------------

func TestEnforceBlockedNeverSends(t *testing.T) {
	h := newHarness(t)
	h.store.PutContact(domain.Contact{ID: "c1", Phone: "212-555-0100"})

	calls := 0
	res, err := gate.Enforce(context.Background(), h.gate, gate.EnforceRequest{
		ContactID: "c1", Channel: domain.ChannelSMS, TemplateID: "promo", ActorModule: "campaigns",
	}, func(context.Context) (string, error) {
		calls++
		return "msg-1", nil
	})
	require.NoError(t, err)

	assert.Zero(t, calls)
	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonNoConsent, res.Check.Reason)

	touches := h.store.Touches()
	require.Len(t, touches, 1)
	assert.Equal(t, domain.TouchBlocked, touches[0].Status)
	assert.Equal(t, domain.ReasonNoConsent, touches[0].BlockReason)

	entries := h.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionOutboundBlocked, entries[0].ActionType)
	assert.Equal(t, "campaigns", entries[0].ActorModule)
}

func TestEnforceSendsAndRecords(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	req := gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelEmail, TemplateID: "welcome"}

	res, err := gate.Enforce(context.Background(), h.gate, req, func(context.Context) (string, error) {
		return "ses-123", nil
	})
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, "ses-123", res.Value)
	assert.True(t, res.Touch.Success)

	touches := h.store.Touches()
	require.Len(t, touches, 1)
	assert.Equal(t, domain.TouchSent, touches[0].Status)
	assert.Equal(t, "outbound", touches[0].ActorModule)

	// Email cap is 1/24h: the next attempt is blocked.
	h.now = h.now.Add(5 * time.Minute)
	res, err = gate.Enforce(context.Background(), h.gate, req, func(context.Context) (string, error) {
		t.Fatal("send must not run")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonFrequencyCapChannel, res.Check.Reason)
}

func TestEnforceSendErrorRecordsFailed(t *testing.T) {
	h := newHarness(t)
	h.contact(t, "c1", "212-555-0100")
	boom := errors.New("provider 503")

	res, err := gate.Enforce(context.Background(), h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS},
		func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, res.Executed)

	touches := h.store.Touches()
	require.Len(t, touches, 1)
	assert.Equal(t, domain.TouchFailed, touches[0].Status)

	entries := h.store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionOutboundFailed, entries[0].ActionType)

	// A failed send does not count toward caps.
	assert.Equal(t, 0, h.touches.GetTouchCount(context.Background(), "c1", domain.ChannelSMS, 24*time.Hour))
}

func TestEnforceRecordsAfterCallerCancels(t *testing.T) {
	t.Run("sent", func(t *testing.T) {
		h := newHarness(t, withContextAwareTouches())
		h.contact(t, "c1", "212-555-0100")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := gate.Enforce(ctx, h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelEmail, TemplateID: "welcome"},
			func(context.Context) (string, error) {
				cancel()
				return "msg-1", nil
			})
		require.NoError(t, err)
		assert.True(t, res.Executed)
		assert.True(t, res.Touch.Success, res.Touch.Error)

		touches := h.store.Touches()
		require.Len(t, touches, 1)
		assert.Equal(t, domain.TouchSent, touches[0].Status)
		require.Len(t, h.store.AuditEntries(), 1)

		next := h.check(t, "c1", domain.ChannelEmail, gate.CheckOptions{})
		assert.False(t, next.Allowed)
		assert.Equal(t, domain.ReasonFrequencyCapChannel, next.Reason)
	})

	t.Run("failed", func(t *testing.T) {
		h := newHarness(t, withContextAwareTouches())
		h.contact(t, "c1", "212-555-0100")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		boom := errors.New("provider timeout")

		res, err := gate.Enforce(ctx, h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS},
			func(context.Context) (string, error) {
				cancel()
				return "", boom
			})
		assert.ErrorIs(t, err, boom)
		assert.True(t, res.Touch.Success, res.Touch.Error)

		touches := h.store.Touches()
		require.Len(t, touches, 1)
		assert.Equal(t, domain.TouchFailed, touches[0].Status)
	})
}

func TestHungCatalogFallsBackToDefaults(t *testing.T) {
	h := newHarness(t, withCatalog(hangingCatalog{}))
	h.contact(t, "c1", "212-555-0100")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	res, err := h.gate.AssertCanContact(ctx, "c1", domain.ChannelSMS, gate.CheckOptions{})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "reason=%s", res.Reason)
	require.NotNil(t, res.ChannelTouches)
	assert.Zero(t, *res.ChannelTouches)
}

func TestEnforceRequiresSend(t *testing.T) {
	h := newHarness(t)
	_, err := gate.Enforce[string](context.Background(), h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS}, nil)
	assert.ErrorIs(t, err, gate.ErrValidation)
}

func TestEnforceStrictCapsHoldSlots(t *testing.T) {
	h := newHarness(t, withStrictCaps())
	h.contact(t, "c1", "212-555-0100")
	ctx := context.Background()

	res, err := gate.Enforce(ctx, h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS, TemplateID: "a"},
		func(context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	require.True(t, res.Executed)

	for _, scope := range []string{"sms", policy.ScopeTotal} {
		card, err := h.redis.ZCard(ctx, touch.CounterKey("c1", scope)).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), card, scope)
	}
}

func TestEnforceStrictCapsDenyInFlight(t *testing.T) {
	h := newHarness(t, withStrictCaps())
	h.contact(t, "c1", "212-555-0100")
	ctx := context.Background()

	// Three sends from other replicas hold slots but are not yet recorded.
	counter := touch.NewRedisWindowCounter(h.redis).WithClock(h.clock)
	for _, m := range []string{"x", "y", "z"} {
		ok, err := counter.Reserve(ctx, touch.CounterKey("c1", "sms"), m, 3, 24*time.Hour, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := gate.Enforce(ctx, h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS, TemplateID: "d"},
		func(context.Context) (bool, error) {
			t.Fatal("send must not run")
			return false, nil
		})
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, domain.ReasonFrequencyCapChannel, res.Check.Reason)
	assert.Nil(t, res.Check.ChannelTouches)

	touches := h.store.Touches()
	require.Len(t, touches, 1)
	assert.Equal(t, domain.TouchBlocked, touches[0].Status)
}

func TestEnforceStrictCapsReleaseOnFailure(t *testing.T) {
	h := newHarness(t, withStrictCaps())
	h.contact(t, "c1", "212-555-0100")
	ctx := context.Background()

	_, err := gate.Enforce(ctx, h.gate, gate.EnforceRequest{ContactID: "c1", Channel: domain.ChannelSMS},
		func(context.Context) (bool, error) { return false, errors.New("down") })
	require.Error(t, err)

	card, err := h.redis.ZCard(ctx, touch.CounterKey("c1", "sms")).Result()
	require.NoError(t, err)
	assert.Zero(t, card)
	card, err = h.redis.ZCard(ctx, touch.CounterKey("c1", policy.ScopeTotal)).Result()
	require.NoError(t, err)
	assert.Zero(t, card)
}

// ---------------------------------------------------------------------------
// AssertCanAct
// ---------------------------------------------------------------------------

func TestAssertCanActRateLimit(t *testing.T) {
	h := newHarness(t)
	h.store.AddComplianceRule(rule(t, "rate.scrape", domain.RuleTypeRateLimit, domain.EnforceBlock,
		map[string]interface{}{"action": "scrape", "limit": 2, "window_minutes": 10}))
	ctx := context.Background()
	req := gate.ActionRequest{AgentType: "scraper", ActionType: "scrape"}

	for i := 0; i < 2; i++ {
		res, err := h.gate.AssertCanAct(ctx, req)
		require.NoError(t, err)
		require.True(t, res.Allowed, i)
	}

	res, err := h.gate.AssertCanAct(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonRateLimit, res.Reason)
	assert.Equal(t, "rate.scrape", res.RuleKey)
	assert.Equal(t, 2, *res.RecentCount)

	// The window slides.
	h.now = h.now.Add(11 * time.Minute)
	res, err = h.gate.AssertCanAct(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAssertCanActTriggersLockdown(t *testing.T) {
	h := newHarness(t)
	h.store.AddLockdownRule(domain.LockdownRule{
		ID: "burst", RuleName: "scraper_burst", AgentType: strPtr("scraper"),
		ThresholdValue: 5, ThresholdWindowMinutes: 10, LockdownAction: domain.LockdownPauseAgent, IsActive: true,
	})
	ctx := context.Background()
	req := gate.ActionRequest{AgentType: "scraper", ActionType: "scrape"}

	for i := 0; i < 5; i++ {
		res, err := h.gate.AssertCanAct(ctx, req)
		require.NoError(t, err)
		require.True(t, res.Allowed, i)
	}

	res, err := h.gate.AssertCanAct(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonLockdown, res.Reason)
	assert.Equal(t, lockdown.WeightPauseThreshold, res.RiskScore)

	active, err := h.monitor.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	r, _ := h.store.LockdownRule("burst")
	assert.Equal(t, 1, r.TriggerCount)

	// Subsequent checks hit the stored lockdown.
	res, err = h.gate.AssertCanAct(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonLockdown, res.Reason)
	assert.Contains(t, res.Message, "scraper_burst")

	active, _ = h.monitor.ListActive(ctx)
	assert.Len(t, active, 1)
}

func TestAssertCanActSpendCap(t *testing.T) {
	h := newHarness(t, withSpendTracker())
	h.store.AddComplianceRule(rule(t, "spend.ads", domain.RuleTypeSpendCap, domain.EnforceBlock,
		map[string]interface{}{"scope": "ad_spend", "amount": 100.0, "window_hours": 24}))
	ctx := context.Background()

	res, err := h.gate.AssertCanAct(ctx, gate.ActionRequest{AgentType: "ads", ActionType: "ad_spend", Amount: 60})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.InDelta(t, 60.0, *res.SpendTotal, 0.001)

	res, err = h.gate.AssertCanAct(ctx, gate.ActionRequest{AgentType: "ads", ActionType: "ad_spend", Amount: 50})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonRateLimit, res.Reason)
	assert.Equal(t, "spend.ads", res.RuleKey)

	res, err = h.gate.AssertCanAct(ctx, gate.ActionRequest{AgentType: "ads", ActionType: "ad_spend", Amount: 40})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.InDelta(t, 100.0, *res.SpendTotal, 0.001)
}

func TestAssertCanActValidation(t *testing.T) {
	h := newHarness(t)
	for _, req := range []gate.ActionRequest{
		{ActionType: "scrape"},
		{AgentType: "scraper"},
		{AgentType: "ads", ActionType: "ad_spend", Amount: -1},
	} {
		_, err := h.gate.AssertCanAct(context.Background(), req)
		assert.ErrorIs(t, err, gate.ErrValidation)
	}
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// EmergencySwitch
// ---------------------------------------------------------------------------

func TestEmergencySwitchCachesState(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := memory.NewStore()
	sw := gate.NewEmergencySwitch(store, client, 5*time.Second, time.Second)
	ctx := context.Background()

	active, err := sw.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	v, err := mr.Get("compliance:emergency_stop")
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	// Set drops the cached value so the change is seen immediately.
	c, err := sw.Set(ctx, true, "ops@example.com", "bad template")
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.False(t, mr.Exists("compliance:emergency_stop"))

	active, err = sw.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	// Served from cache while the database is down.
	store.SetError(errors.New("db down"))
	active, err = sw.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	// Expired cache plus a failing database fails closed.
	mr.FastForward(6 * time.Second)
	active, err = sw.Active(ctx)
	assert.Error(t, err)
	assert.True(t, active)
}

func TestEmergencySwitchRequiresActor(t *testing.T) {
	sw := gate.NewEmergencySwitch(memory.NewStore(), nil, 0, 0)
	_, err := sw.Set(context.Background(), true, "", "why")
	assert.ErrorIs(t, err, gate.ErrValidation)
}

func TestEmergencySwitchStatus(t *testing.T) {
	store := memory.NewStore()
	sw := gate.NewEmergencySwitch(store, nil, 0, 0)
	ctx := context.Background()

	c, err := sw.Status(ctx)
	require.NoError(t, err)
	assert.False(t, c.Active)

	_, err = sw.Set(ctx, true, "ops", "incident")
	require.NoError(t, err)
	c, err = sw.Status(ctx)
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, "ops", c.UpdatedBy)
}
