package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
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

// Tuesday 15:00 UTC, 10:00 in New York.
var testNow = time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *memory.Store
	estop  *gate.EmergencySwitch
	router http.Handler
}

func setupTestHandlers(t *testing.T, health *HealthChecker) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memory.NewStore()

	table, err := timewindow.NewAreaCodeTable(nil, "America/New_York")
	require.NoError(t, err)

	policies := policy.NewStore(store, policy.DefaultDefaults(), 0).WithClock(clock)
	ledger := consent.NewLedger(store, 100*time.Millisecond).WithClock(clock)
	touches := touch.NewLedger(store, 100*time.Millisecond).WithClock(clock)
	trail := audit.NewTrail(store).WithClock(clock)
	monitor := lockdown.NewMonitor(store, policies, trail, notify.Noop{}, 100*time.Millisecond).WithClock(clock)
	estop := gate.NewEmergencySwitch(store, nil, 0, 100*time.Millisecond).WithAudit(trail).WithClock(clock)
	windows := timewindow.NewEvaluator(table, store, policies)

	g := gate.New(gate.Config{AgentType: "outbound", EnforceCallHours: true, ReadTimeout: 100 * time.Millisecond}, gate.Dependencies{
		Contacts:      store,
		EmergencyStop: estop,
		Lockdowns:     monitor,
		Consent:       ledger,
		Touches:       touches,
		Windows:       windows,
		Policies:      policies,
		Audit:         trail,
	}).WithClock(clock)

	h := NewHandlers(Deps{
		Gate:          g,
		Monitor:       monitor,
		EmergencyStop: estop,
		Policies:      policies,
		Consent:       ledger,
		Windows:       windows,
		Audit:         trail,
	}).WithClock(clock)

	return &testEnv{store: store, estop: estop, router: SetupRoutes(h, health, nil)}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestCheckContact_Lifecycle(t *testing.T) {
	env := setupTestHandlers(t, nil)
	env.store.PutContact(domain.Contact{ID: "c1", Phone: "2125550100"})

	// No consent yet.
	rr := env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "sms"})
	require.Equal(t, http.StatusOK, rr.Code)
	var res gate.CheckResult
	decode(t, rr, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonNoConsent, res.Reason)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/consent", map[string]string{"channel": "sms", "source": "web_form"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "sms"})
	res = gate.CheckResult{}
	decode(t, rr, &res)
	assert.True(t, res.Allowed, res.Message)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/suppressions", map[string]string{"channel": "all", "reason": "opt_out"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "sms"})
	res = gate.CheckResult{}
	decode(t, rr, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonSuppressed, res.Reason)

	rr = env.do(t, http.MethodGet, "/v1/contacts/c1/compliance", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary consent.Summary
	decode(t, rr, &summary)
	assert.Len(t, summary.Consent, 1)
	assert.Len(t, summary.Suppressions, 1)

	rr = env.do(t, http.MethodDelete, "/v1/contacts/c1/suppressions?channel=all", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "sms"})
	res = gate.CheckResult{}
	decode(t, rr, &res)
	assert.True(t, res.Allowed)
}

func TestCheckContact_Validation(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "fax"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"unknown": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCheckContact_UnknownContactBlocks(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/contacts/ghost/check", map[string]string{"channel": "email"})
	require.Equal(t, http.StatusOK, rr.Code)
	var res gate.CheckResult
	decode(t, rr, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonDNC, res.Reason)
}

func TestRecordTouch(t *testing.T) {
	env := setupTestHandlers(t, nil)
	body := map[string]string{"contact_id": "c1", "channel": "sms", "status": "sent", "template_id": "welcome"}

	rr := env.do(t, http.MethodPost, "/v1/touches", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var first touch.Result
	decode(t, rr, &first)
	assert.True(t, first.Success)
	assert.NotEmpty(t, first.IdempotencyKey)

	rr = env.do(t, http.MethodPost, "/v1/touches", body)
	require.Equal(t, http.StatusOK, rr.Code)
	var second touch.Result
	decode(t, rr, &second)
	assert.True(t, second.Duplicate)
	assert.Len(t, env.store.Touches(), 1)
}

func TestRecordTouch_Validation(t *testing.T) {
	env := setupTestHandlers(t, nil)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing contact", map[string]string{"channel": "sms", "status": "sent"}},
		{"bad channel", map[string]string{"contact_id": "c1", "channel": "fax", "status": "sent"}},
		{"bad status", map[string]string{"contact_id": "c1", "channel": "sms", "status": "queued"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/touches", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestRecordTouch_StoreDown(t *testing.T) {
	env := setupTestHandlers(t, nil)
	env.store.SetError(errors.New("connection refused"))

	rr := env.do(t, http.MethodPost, "/v1/touches", map[string]string{"contact_id": "c1", "channel": "sms", "status": "sent"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCheckAction(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/actions/check", map[string]string{"agent_type": "scraper", "action_type": "scrape"})
	require.Equal(t, http.StatusOK, rr.Code)
	var res gate.ActionResult
	decode(t, rr, &res)
	assert.True(t, res.Allowed)

	rr = env.do(t, http.MethodPost, "/v1/actions/check", map[string]string{"agent_type": "scraper"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLockdownLifecycle(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/lockdowns", map[string]string{"agent_type": "scraper", "reason": "runaway loop", "actor": "ops"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var l domain.Lockdown
	decode(t, rr, &l)
	assert.Equal(t, "scraper", l.AgentType)
	assert.Equal(t, domain.LockdownActive, l.Status)

	rr = env.do(t, http.MethodGet, "/v1/lockdowns", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Lockdowns []domain.Lockdown `json:"lockdowns"`
		Count     int               `json:"count"`
	}
	decode(t, rr, &list)
	assert.Equal(t, 1, list.Count)

	rr = env.do(t, http.MethodPost, "/v1/actions/check", map[string]string{"agent_type": "scraper", "action_type": "scrape"})
	var res gate.ActionResult
	decode(t, rr, &res)
	assert.False(t, res.Allowed)
	assert.Equal(t, domain.ReasonLockdown, res.Reason)

	// resolved_by is required
	rr = env.do(t, http.MethodPost, "/v1/lockdowns/"+l.ID+"/resolve", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/lockdowns/"+l.ID+"/resolve", map[string]string{"resolved_by": "ops", "note": "fixed"})
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &l)
	assert.Equal(t, domain.LockdownResolved, l.Status)

	rr = env.do(t, http.MethodPost, "/v1/lockdowns/"+l.ID+"/resolve", map[string]string{"resolved_by": "ops"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/lockdowns", map[string]string{"reason": "no agent"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEvaluateLockdowns(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/lockdowns/evaluate", map[string]string{"agent_type": "scraper"})
	require.Equal(t, http.StatusOK, rr.Code)
	var ev lockdown.Evaluation
	decode(t, rr, &ev)
	assert.False(t, ev.Blocked)

	rr = env.do(t, http.MethodPost, "/v1/lockdowns/evaluate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEmergencyStop(t *testing.T) {
	env := setupTestHandlers(t, nil)
	env.store.PutContact(domain.Contact{ID: "c1", Phone: "2125550100"})

	rr := env.do(t, http.MethodPut, "/v1/emergency-stop", map[string]interface{}{"active": true, "actor": "ops", "reason": "carrier complaint"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/v1/emergency-stop", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var c domain.SystemControl
	decode(t, rr, &c)
	assert.True(t, c.Active)
	assert.Equal(t, "ops", c.UpdatedBy)

	rr = env.do(t, http.MethodPost, "/v1/contacts/c1/check", map[string]string{"channel": "email"})
	var res gate.CheckResult
	decode(t, rr, &res)
	assert.Equal(t, domain.ReasonEmergencyStop, res.Reason)

	rr = env.do(t, http.MethodPut, "/v1/emergency-stop", map[string]interface{}{"actor": "ops"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "active is required")

	rr = env.do(t, http.MethodPut, "/v1/emergency-stop", map[string]interface{}{"active": false})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "actor is required")

	entries, err := audit.NewTrail(env.store).List(context.Background(), audit.ListFilter{ActionType: domain.ActionEmergencyStop})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInvalidatePolicy(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodPost, "/v1/policy/invalidate", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	env.store.SetError(errors.New("db down"))
	rr = env.do(t, http.MethodPost, "/v1/policy/invalidate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestTimeWindows(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rr := env.do(t, http.MethodGet, "/v1/call-hours?phone=2125550100", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ch timewindow.CallHourResult
	decode(t, rr, &ch)
	assert.True(t, ch.Allowed)
	assert.Equal(t, 10, ch.LocalHour)

	rr = env.do(t, http.MethodGet, "/v1/call-hours", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/outreach-window?channel=sms", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var bc timewindow.BusinessContext
	decode(t, rr, &bc)
	assert.True(t, bc.CanOutreach, bc.Reasons)

	rr = env.do(t, http.MethodGet, "/v1/outreach-window?channel=pager", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListAudit(t *testing.T) {
	env := setupTestHandlers(t, nil)
	env.do(t, http.MethodPost, "/v1/actions/check", map[string]string{"agent_type": "scraper", "action_type": "scrape"})
	env.do(t, http.MethodPost, "/v1/actions/check", map[string]string{"agent_type": "scraper", "action_type": "scrape"})

	rr := env.do(t, http.MethodGet, "/v1/audit?action_type=scrape&limit=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Entries []domain.AuditEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	decode(t, rr, &out)
	assert.Equal(t, 1, out.Count)

	rr = env.do(t, http.MethodGet, "/v1/audit?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type stubBucket struct{ err error }

func (s stubBucket) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, s.err
}

func TestHealth_FallbackRoute(t *testing.T) {
	env := setupTestHandlers(t, nil)
	rr := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestHealth_Checks(t *testing.T) {
	store := memory.NewStore()
	estop := gate.NewEmergencySwitch(store, nil, 0, 100*time.Millisecond)
	hc := NewHealthChecker(nil, nil, stubBucket{}, "audit-archive", estop)
	env := setupTestHandlers(t, hc)

	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var hs HealthStatus
	decode(t, rr, &hs)
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, "up", hs.Checks["audit_archive"].Status)
	assert.Equal(t, "up", hs.Checks["emergency_stop"].Status)

	_, err := estop.Set(context.Background(), true, "ops", "drill")
	require.NoError(t, err)
	rr = env.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"degraded"`)

	rr = env.do(t, http.MethodGet, "/health/db-stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealth_BucketDown(t *testing.T) {
	hc := NewHealthChecker(nil, nil, stubBucket{err: errors.New("forbidden")}, "audit-archive", nil)
	checks := hc.runAllChecks(context.Background())
	assert.Equal(t, "down", checks["audit_archive"].Status)
	assert.Equal(t, "degraded", determineOverallStatus(checks))
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"all up", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"database down", map[string]ComponentCheck{"database": {Status: "down", Message: "ping failed"}}, "unhealthy"},
		{"redis degraded", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "degraded"}}, "degraded"},
		{"unconfigured", map[string]ComponentCheck{"database": {Status: "down", Message: "not configured"}}, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.checks))
		})
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5*time.Second))
	assert.Equal(t, "2m 5s", formatUptime(2*time.Minute+5*time.Second))
	assert.Equal(t, "1d 3h 0m 0s", formatUptime(27*time.Hour))
}
