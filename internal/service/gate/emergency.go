package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/notify"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
	"github.com/ignite/compliance-gate/internal/service/audit"
)

// EmergencyStop reports whether the process-wide kill switch is engaged.
type EmergencyStop interface {
	Active(ctx context.Context) (bool, error)
}

// emergencyCacheKey caches the switch state; "1" engaged, "0" released.
const emergencyCacheKey = "compliance:emergency_stop"

// EmergencySwitch is the system_controls backed kill switch with an optional
// short read-through Redis cache.
type EmergencySwitch struct {
	repo     ControlRepository
	redis    *redis.Client
	ttl      time.Duration
	timeout  time.Duration
	trail    AuditTrail
	notifier notify.Notifier
	now      func() time.Time
}

// NewEmergencySwitch creates the switch. redisClient may be nil to read the
// database every time.
func NewEmergencySwitch(repo ControlRepository, redisClient *redis.Client, ttl, timeout time.Duration) *EmergencySwitch {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &EmergencySwitch{
		repo:     repo,
		redis:    redisClient,
		ttl:      ttl,
		timeout:  timeout,
		notifier: notify.Noop{},
		now:      time.Now,
	}
}

// WithAudit records every state change on trail.
func (s *EmergencySwitch) WithAudit(trail AuditTrail) *EmergencySwitch {
	s.trail = trail
	return s
}

// WithNotifier alerts on every state change.
func (s *EmergencySwitch) WithNotifier(n notify.Notifier) *EmergencySwitch {
	if n != nil {
		s.notifier = n
	}
	return s
}

// WithClock overrides the clock stamped on state changes.
func (s *EmergencySwitch) WithClock(now func() time.Time) *EmergencySwitch {
	s.now = now
	return s
}

// Active reports the switch state. Any read failure is returned with
// active=true so callers that ignore the error still fail closed.
func (s *EmergencySwitch) Active(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.redis != nil {
		v, err := s.redis.Get(ctx, emergencyCacheKey).Result()
		switch {
		case err == nil:
			return v == "1", nil
		case !errors.Is(err, redis.Nil):
			logger.Warn("emergency stop cache read failed", "error", err)
		}
	}

	c, err := s.repo.GetControl(ctx, domain.ControlEmergencyStop)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return true, fmt.Errorf("reading emergency stop: %w", err)
	}

	if s.redis != nil {
		v := "0"
		if c.Active {
			v = "1"
		}
		if err := s.redis.Set(ctx, emergencyCacheKey, v, s.ttl).Err(); err != nil {
			logger.Warn("emergency stop cache write failed", "error", err)
		}
	}
	return c.Active, nil
}

// Status returns the stored control row, bypassing the cache.
func (s *EmergencySwitch) Status(ctx context.Context) (*domain.SystemControl, error) {
	c, err := s.repo.GetControl(ctx, domain.ControlEmergencyStop)
	if err != nil {
		return nil, fmt.Errorf("reading emergency stop: %w", err)
	}
	return c, nil
}

// Set engages or releases the switch and drops the cached state.
func (s *EmergencySwitch) Set(ctx context.Context, active bool, actor, reason string) (*domain.SystemControl, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	c := &domain.SystemControl{
		Key:       domain.ControlEmergencyStop,
		Active:    active,
		Reason:    reason,
		UpdatedBy: actor,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.repo.SetControl(ctx, c); err != nil {
		return nil, fmt.Errorf("writing emergency stop: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, emergencyCacheKey).Err(); err != nil {
			logger.Warn("emergency stop cache invalidation failed", "error", err)
		}
	}

	logger.Warn("emergency stop changed", "active", active, "actor", actor, "reason", reason)
	if s.trail != nil {
		s.trail.Write(ctx, audit.Entry{
			ActorType:   domain.ActorUser,
			ActorModule: actor,
			ActionType:  domain.ActionEmergencyStop,
			EntityType:  "system_control",
			EntityID:    domain.ControlEmergencyStop,
			Payload:     map[string]interface{}{"active": active, "reason": reason},
		})
	}

	sev, subject := notify.SeverityInfo, "Emergency stop released"
	if active {
		sev, subject = notify.SeverityCritical, "Emergency stop engaged"
	}
	_ = s.notifier.Notify(ctx, notify.Alert{
		Severity: sev,
		Kind:     notify.KindEmergencyStop,
		Subject:  subject,
		Body:     reason,
		Fields:   map[string]interface{}{"active": active, "actor": actor},
		At:       c.UpdatedAt,
	})
	return c, nil
}
