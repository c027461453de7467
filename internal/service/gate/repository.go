package gate

import (
	"context"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

// ContactRepository reads the gate's view of a contact. Unknown ids return
// ErrContactNotFound.
type ContactRepository interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
}

// ControlRepository reads and writes system_controls. A missing row reads as
// an inactive control.
type ControlRepository interface {
	GetControl(ctx context.Context, key string) (*domain.SystemControl, error)
	SetControl(ctx context.Context, c *domain.SystemControl) error
}

// ConsentChecker answers the fail-safe suppression and consent questions.
type ConsentChecker interface {
	IsContactSuppressed(ctx context.Context, contactID string, channel domain.Channel) bool
	HasValidConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string) bool
}

// TouchRecorder records attempts and answers trailing-window counts.
type TouchRecorder interface {
	RecordOutboundTouch(ctx context.Context, p touch.Params) touch.Result
	GetTouchCount(ctx context.Context, contactID string, channel domain.Channel, window time.Duration) int
}

// LockdownChecker reports active lockdowns and evaluates lockdown rules.
type LockdownChecker interface {
	IsLocked(ctx context.Context, agentType string) (bool, *domain.Lockdown)
	Evaluate(ctx context.Context, agentType, actionType string) lockdown.Evaluation
}

// WindowChecker evaluates call hours and business context.
type WindowChecker interface {
	CheckContactCallHours(ctx context.Context, c domain.Contact, now time.Time) timewindow.CallHourResult
	CheckBusinessContext(ctx context.Context, channel domain.Channel, now time.Time) timewindow.BusinessContext
}

// PolicySource supplies the current rule catalog.
type PolicySource interface {
	Current(ctx context.Context) *policy.Policy
}

// AuditTrail records and counts audit entries.
type AuditTrail interface {
	Write(ctx context.Context, e audit.Entry)
	CountRecent(ctx context.Context, actorModule, actionType *string, window time.Duration) (int, error)
}
