package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/httputil"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/consent"
	"github.com/ignite/compliance-gate/internal/service/gate"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// Deps are the services the handlers expose.
type Deps struct {
	Gate          *gate.Gate
	Monitor       *lockdown.Monitor
	EmergencyStop *gate.EmergencySwitch
	Policies      *policy.Store
	Consent       *consent.Ledger
	Windows       *timewindow.Evaluator
	Audit         *audit.Trail
}

// Handlers contains the HTTP handlers for the gate API.
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, now: time.Now}
}

// WithClock overrides the clock used for time-window queries.
func (h *Handlers) WithClock(now func() time.Time) *Handlers {
	h.now = now
	return h
}

// ---------------------------------------------------------------------------
// Contact checks
// ---------------------------------------------------------------------------

type checkRequest struct {
	Channel domain.Channel `json:"channel"`
	gate.CheckOptions
}

// CheckContact runs the admission pipeline for one contact and channel.
//
//	POST /v1/contacts/{contactID}/check
func (h *Handlers) CheckContact(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.deps.Gate.AssertCanContact(r.Context(), chi.URLParam(r, "contactID"), req.Channel, req.CheckOptions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

type touchRequest struct {
	ContactID   string             `json:"contact_id"`
	Channel     domain.Channel     `json:"channel"`
	Status      domain.TouchStatus `json:"status"`
	TemplateID  string             `json:"template_id,omitempty"`
	CallID      string             `json:"call_id,omitempty"`
	BlockReason domain.ReasonCode  `json:"block_reason,omitempty"`
	ActorModule string             `json:"actor_module,omitempty"`
}

// RecordTouch records an attempt made outside the enforcement wrapper.
//
//	POST /v1/touches
func (h *Handlers) RecordTouch(w http.ResponseWriter, r *http.Request) {
	var req touchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	switch {
	case strings.TrimSpace(req.ContactID) == "":
		httputil.BadRequest(w, "contact_id is required")
		return
	case !req.Channel.Valid():
		httputil.BadRequest(w, "channel must be sms, email or voice")
		return
	case !req.Status.Valid():
		httputil.BadRequest(w, "status must be sent, blocked or failed")
		return
	}

	res := h.deps.Gate.RecordOutboundTouch(r.Context(), touch.Params{
		ContactID:   req.ContactID,
		Channel:     req.Channel,
		Status:      req.Status,
		TemplateID:  req.TemplateID,
		CallID:      req.CallID,
		BlockReason: req.BlockReason,
		ActorModule: req.ActorModule,
	})
	if !res.Success {
		httputil.JSON(w, http.StatusServiceUnavailable, res)
		return
	}
	if res.Duplicate {
		httputil.OK(w, res)
		return
	}
	httputil.Created(w, res)
}

// CheckAction admits an automated action.
//
//	POST /v1/actions/check
func (h *Handlers) CheckAction(w http.ResponseWriter, r *http.Request) {
	var req gate.ActionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.deps.Gate.AssertCanAct(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ---------------------------------------------------------------------------
// Consent and suppression
// ---------------------------------------------------------------------------

// ContactCompliance returns every consent and suppression record.
//
//	GET /v1/contacts/{contactID}/compliance
func (h *Handlers) ContactCompliance(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Consent.Summarize(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, s)
}

type consentRequest struct {
	Channel     domain.Channel `json:"channel"`
	ConsentType string         `json:"consent_type,omitempty"`
	Source      string         `json:"source,omitempty"`
}

// GrantConsent records a new consent.
//
//	POST /v1/contacts/{contactID}/consent
func (h *Handlers) GrantConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	rec, err := h.deps.Consent.GrantConsent(r.Context(), chi.URLParam(r, "contactID"), req.Channel, req.ConsentType, req.Source)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.Created(w, rec)
}

// RevokeConsent revokes consent for ?channel=, optionally narrowed by
// ?consent_type=.
//
//	DELETE /v1/contacts/{contactID}/consent
func (h *Handlers) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.deps.Consent.RevokeConsent(r.Context(), chi.URLParam(r, "contactID"),
		domain.Channel(q.Get("channel")), q.Get("consent_type"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type suppressRequest struct {
	Channel domain.Channel           `json:"channel"`
	Reason  domain.SuppressionReason `json:"reason,omitempty"`
	Source  string                   `json:"source,omitempty"`
}

// Suppress adds a suppression. Channel "all" covers every channel.
//
//	POST /v1/contacts/{contactID}/suppressions
func (h *Handlers) Suppress(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.deps.Consent.Suppress(r.Context(), chi.URLParam(r, "contactID"), req.Channel, req.Reason, req.Source); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reactivate lifts the suppression for ?channel=.
//
//	DELETE /v1/contacts/{contactID}/suppressions
func (h *Handlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(r.URL.Query().Get("channel"))
	if ch != domain.ChannelAll && !ch.Valid() {
		httputil.BadRequest(w, "channel must be sms, email, voice or all")
		return
	}
	if err := h.deps.Consent.Reactivate(r.Context(), chi.URLParam(r, "contactID"), ch); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Lockdowns
// ---------------------------------------------------------------------------

// ListLockdowns returns every active lockdown.
//
//	GET /v1/lockdowns
func (h *Handlers) ListLockdowns(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Monitor.ListActive(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Lockdown{}
	}
	httputil.OK(w, map[string]interface{}{"lockdowns": list, "count": len(list)})
}

type activateRequest struct {
	AgentType string `json:"agent_type"`
	Reason    string `json:"reason,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// ActivateLockdown creates a manual lockdown.
//
//	POST /v1/lockdowns
func (h *Handlers) ActivateLockdown(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	l, err := h.deps.Monitor.ActivateManual(r.Context(), req.AgentType, req.Reason, req.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.Created(w, l)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Note       string `json:"note,omitempty"`
}

// ResolveLockdown ends an active lockdown.
//
//	POST /v1/lockdowns/{id}/resolve
func (h *Handlers) ResolveLockdown(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	l, err := h.deps.Monitor.Resolve(r.Context(), chi.URLParam(r, "id"), req.ResolvedBy, req.Note)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, l)
}

type evaluateRequest struct {
	AgentType  string `json:"agent_type"`
	ActionType string `json:"action_type,omitempty"`
}

// EvaluateLockdowns runs the lockdown rules for one agent now.
//
//	POST /v1/lockdowns/evaluate
func (h *Handlers) EvaluateLockdowns(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AgentType) == "" {
		httputil.BadRequest(w, "agent_type is required")
		return
	}
	httputil.OK(w, h.deps.Monitor.Evaluate(r.Context(), req.AgentType, req.ActionType))
}

// ---------------------------------------------------------------------------
// Emergency stop and policy
// ---------------------------------------------------------------------------

// EmergencyStopStatus returns the stored switch.
//
//	GET /v1/emergency-stop
func (h *Handlers) EmergencyStopStatus(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.EmergencyStop.Status(r.Context())
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

type emergencyRequest struct {
	Active *bool  `json:"active"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// SetEmergencyStop engages or releases the switch.
//
//	PUT /v1/emergency-stop
func (h *Handlers) SetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.BadRequest(w, "active is required")
		return
	}
	c, err := h.deps.EmergencyStop.Set(r.Context(), *req.Active, req.Actor, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.OK(w, c)
}

// InvalidatePolicy drops the cached rule catalog and reloads it.
//
//	POST /v1/policy/invalidate
func (h *Handlers) InvalidatePolicy(w http.ResponseWriter, r *http.Request) {
	h.deps.Policies.Invalidate()
	p, err := h.deps.Policies.Load(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "policy reload failed; serving previous catalog", "policy_unavailable")
		return
	}
	httputil.OK(w, map[string]interface{}{
		"loaded_at":      p.LoadedAt(),
		"lockdown_rules": len(p.LockdownRules()),
	})
}

// ---------------------------------------------------------------------------
// Time windows and audit
// ---------------------------------------------------------------------------

// OutreachWindow reports whether outreach is inside business context now.
//
//	GET /v1/outreach-window?channel=sms
func (h *Handlers) OutreachWindow(w http.ResponseWriter, r *http.Request) {
	ch := domain.Channel(r.URL.Query().Get("channel"))
	if ch != "" && !ch.Valid() {
		httputil.BadRequest(w, "channel must be sms, email or voice")
		return
	}
	httputil.OK(w, h.deps.Windows.CheckBusinessContext(r.Context(), ch, h.now()))
}

// CallHours reports the legal call-hour decision for a phone number now.
//
//	GET /v1/call-hours?phone=4155550100
func (h *Handlers) CallHours(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		httputil.BadRequest(w, "phone is required")
		return
	}
	httputil.OK(w, h.deps.Windows.CheckLegalCallHours(r.Context(), phone, h.now()))
}

// ListAudit returns recent audit entries.
//
//	GET /v1/audit?entity_type=contact&entity_id=c1&action_type=outbound.sent&limit=50
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.ListFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActionType: q.Get("action_type"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	entries, err := h.deps.Audit.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	httputil.OK(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case gate.IsValidation(err),
		errors.Is(err, consent.ErrContactRequired),
		errors.Is(err, consent.ErrInvalidChannel),
		errors.Is(err, lockdown.ErrAgentRequired),
		errors.Is(err, lockdown.ErrResolverRequired):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, lockdown.ErrNotFound), errors.Is(err, consent.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, lockdown.ErrLockdownExists):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, r, err)
	}
}
