package gate

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// recordTimeout bounds the touch and audit writes that follow a check or
// send. They run detached from the caller so a disconnect cannot drop them.
const recordTimeout = 5 * time.Second

// EnforceRequest describes one outbound attempt.
type EnforceRequest struct {
	ContactID   string         `json:"contact_id"`
	Channel     domain.Channel `json:"channel"`
	TemplateID  string         `json:"template_id,omitempty"`
	CallID      string         `json:"call_id,omitempty"`
	ActorModule string         `json:"actor_module,omitempty"`
	Options     CheckOptions   `json:"options"`
}

// EnforceResult reports what Enforce did. Executed is true once send was
// invoked, whether or not it succeeded.
type EnforceResult[T any] struct {
	Executed bool         `json:"executed"`
	Check    CheckResult  `json:"check"`
	Touch    touch.Result `json:"touch"`
	Value    T            `json:"value,omitempty"`
}

// Enforce checks the attempt and runs send only when it is allowed. Every
// outcome is recorded as a touch and audited: blocked without calling send,
// sent on success, failed when send returns an error. send's error is
// returned to the caller after recording.
func Enforce[T any](ctx context.Context, g *Gate, req EnforceRequest, send func(ctx context.Context) (T, error)) (EnforceResult[T], error) {
	var out EnforceResult[T]
	if send == nil {
		return out, fmt.Errorf("%w: send function is required", ErrValidation)
	}

	ctx, span := g.tracer.Start(ctx, "gate.Enforce", trace.WithAttributes(
		attribute.String("contact.id", req.ContactID),
		attribute.String("channel", string(req.Channel)),
		attribute.String("template.id", req.TemplateID),
	))
	defer span.End()

	check, err := g.AssertCanContact(ctx, req.ContactID, req.Channel, req.Options)
	if err != nil {
		return out, err
	}
	out.Check = check

	actor := g.actorModule(req)
	params := touch.Params{
		ContactID:   req.ContactID,
		Channel:     req.Channel,
		TemplateID:  req.TemplateID,
		CallID:      req.CallID,
		ActorModule: actor,
		At:          g.now(),
	}

	if check.Allowed {
		release, blocked := g.reserve(ctx, req, params.At, check)
		if blocked != nil {
			out.Check = *blocked
		} else {
			out.Executed = true
			value, sendErr := send(ctx)
			recCtx, cancel := recordContext(ctx)
			defer cancel()
			if sendErr != nil {
				release()
				params.Status = domain.TouchFailed
				out.Touch = g.deps.Touches.RecordOutboundTouch(recCtx, params)
				g.auditOutcome(recCtx, req, actor, domain.ActionOutboundFailed, out.Touch, map[string]interface{}{"error": sendErr.Error()})
				span.RecordError(sendErr)
				span.SetStatus(codes.Error, "send failed")
				logger.Warn("outbound send failed", "contact_id", req.ContactID, "channel", string(req.Channel), "error", sendErr)
				return out, sendErr
			}

			out.Value = value
			params.Status = domain.TouchSent
			out.Touch = g.deps.Touches.RecordOutboundTouch(recCtx, params)
			if !out.Touch.Success {
				logger.Error("sent touch not recorded, frequency caps will undercount",
					"contact_id", req.ContactID, "channel", string(req.Channel), "error", out.Touch.Error)
			}
			g.auditOutcome(recCtx, req, actor, domain.ActionOutboundSent, out.Touch, nil)
			return out, nil
		}
	}

	params.Status = domain.TouchBlocked
	params.BlockReason = out.Check.Reason
	recCtx, cancel := recordContext(ctx)
	defer cancel()
	out.Touch = g.deps.Touches.RecordOutboundTouch(recCtx, params)
	g.auditOutcome(recCtx, req, actor, domain.ActionOutboundBlocked, out.Touch, map[string]interface{}{
		"reason":  string(out.Check.Reason),
		"message": out.Check.Message,
	})
	span.SetAttributes(attribute.String("gate.reason", string(out.Check.Reason)))
	return out, nil
}

// reserve takes atomic frequency-cap slots when strict caps are on. It
// returns a release func for a failed send, or the blocking result.
func (g *Gate) reserve(ctx context.Context, req EnforceRequest, at time.Time, check CheckResult) (func(), *CheckResult) {
	noop := func() {}
	if !g.cfg.StrictCaps || g.deps.Counter == nil {
		return noop, nil
	}

	member := touch.GenerateIdempotencyKey(req.ContactID, req.Channel, req.TemplateID, at)
	pol := g.deps.Policies.Current(ctx)

	type slot struct {
		scope    string
		rule     policy.Cap
		observed int
		reason   domain.ReasonCode
	}
	slots := []slot{
		{string(req.Channel), pol.ChannelCap(req.Channel), derefInt(check.ChannelTouches), domain.ReasonFrequencyCapChannel},
		{policy.ScopeTotal, pol.TotalCap(), derefInt(check.TotalTouches), domain.ReasonFrequencyCapTotal},
	}

	var held []string
	release := func() {
		for _, key := range held {
			if err := g.deps.Counter.Release(context.WithoutCancel(ctx), key, member); err != nil {
				logger.Warn("frequency cap slot release failed", "key", key, "error", err)
			}
		}
	}

	for _, s := range slots {
		if s.rule.Enforcement != domain.EnforceBlock {
			continue
		}
		key := touch.CounterKey(req.ContactID, s.scope)
		ok, err := g.deps.Counter.Reserve(ctx, key, member, s.rule.Limit, s.rule.Window, s.observed)
		if err != nil || !ok {
			release()
			res := check
			res.ChannelTouches, res.TotalTouches = nil, nil
			msg := fmt.Sprintf("%s cap reached: limit %d in %s", s.scope, s.rule.Limit, s.rule.Window)
			if err != nil {
				logger.Error("frequency cap reservation failed, blocking", "key", key, "error", err)
				msg = fmt.Sprintf("%s cap reservation unavailable", s.scope)
			}
			res.block(s.reason, msg)
			res.RuleKey = s.rule.RuleKey
			return noop, &res
		}
		held = append(held, key)
	}
	return release, nil
}

func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func (g *Gate) actorModule(req EnforceRequest) string {
	switch {
	case req.ActorModule != "":
		return req.ActorModule
	case req.Options.Actor != "":
		return req.Options.Actor
	}
	return g.cfg.AgentType
}

func (g *Gate) auditOutcome(ctx context.Context, req EnforceRequest, actor, action string, t touch.Result, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"channel":         string(req.Channel),
		"template_id":     req.TemplateID,
		"idempotency_key": t.IdempotencyKey,
		"duplicate":       t.Duplicate,
	}
	if req.CallID != "" {
		payload["call_id"] = req.CallID
	}
	for k, v := range extra {
		payload[k] = v
	}
	g.deps.Audit.Write(ctx, audit.Entry{
		ActorType:   domain.ActorAgent,
		ActorModule: actor,
		ActionType:  action,
		EntityType:  "contact",
		EntityID:    req.ContactID,
		Payload:     payload,
	})
}

// RecordOutboundTouch records an attempt made outside Enforce.
func (g *Gate) RecordOutboundTouch(ctx context.Context, p touch.Params) touch.Result {
	return g.deps.Touches.RecordOutboundTouch(ctx, p)
}

// WriteAudit appends an audit entry. Failures are logged, never returned.
func (g *Gate) WriteAudit(ctx context.Context, e audit.Entry) {
	g.deps.Audit.Write(ctx, e)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
