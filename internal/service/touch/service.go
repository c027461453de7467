package touch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// CountSentinel is returned by GetTouchCount when the count cannot be read.
// It exceeds every configurable cap.
const CountSentinel = math.MaxInt32

// GenerateIdempotencyKey derives the key that collapses retries of one
// logical send: contact:channel:template:minute. An empty templateID is
// replaced by domain.DirectTemplate.
func GenerateIdempotencyKey(contactID string, channel domain.Channel, templateID string, at time.Time) string {
	if templateID == "" {
		templateID = domain.DirectTemplate
	}
	return fmt.Sprintf("%s:%s:%s:%d", contactID, channel, templateID, at.Unix()/60)
}

// Params describes one attempt to record.
type Params struct {
	ContactID   string
	Channel     domain.Channel
	TemplateID  string
	CallID      string
	Status      domain.TouchStatus
	BlockReason domain.ReasonCode
	ActorModule string
	// At defaults to the ledger clock.
	At time.Time
}

// Result reports the outcome of RecordOutboundTouch.
type Result struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Ledger records touches and answers trailing-window counts. It is safe for
// concurrent use.
type Ledger struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
}

// NewLedger creates a touch ledger. timeout bounds each count read; zero
// leaves the caller's deadline in charge.
func NewLedger(repo Repository, timeout time.Duration) *Ledger {
	return &Ledger{repo: repo, timeout: timeout, now: time.Now}
}

// WithClock overrides the ledger clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// RecordOutboundTouch stores the attempt. A duplicate idempotency key is a
// success. Failures are reported in the result, never as a panic or error.
func (l *Ledger) RecordOutboundTouch(ctx context.Context, p Params) Result {
	if err := validate(p); err != nil {
		return Result{Error: err.Error()}
	}
	at := p.At
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()

	t := &domain.OutboundTouch{
		ID:             uuid.New().String(),
		ContactID:      p.ContactID,
		Channel:        p.Channel,
		Status:         p.Status,
		IdempotencyKey: GenerateIdempotencyKey(p.ContactID, p.Channel, p.TemplateID, at),
		TemplateID:     p.TemplateID,
		CallID:         p.CallID,
		BlockReason:    p.BlockReason,
		ActorModule:    p.ActorModule,
		CreatedAt:      at,
	}

	err := l.repo.InsertTouch(ctx, t)
	switch {
	case err == nil:
		return Result{Success: true, IdempotencyKey: t.IdempotencyKey}
	case errors.Is(err, ErrDuplicateTouch):
		logger.Debug("touch already recorded", "idempotency_key", t.IdempotencyKey)
		return Result{Success: true, Duplicate: true, IdempotencyKey: t.IdempotencyKey}
	default:
		logger.Error("failed to record outbound touch",
			"contact_id", p.ContactID, "channel", string(p.Channel), "status", string(p.Status), "error", err)
		return Result{Error: err.Error(), IdempotencyKey: t.IdempotencyKey}
	}
}

func validate(p Params) error {
	switch {
	case strings.TrimSpace(p.ContactID) == "":
		return fmt.Errorf("%w: contact id is required", ErrValidation)
	case !p.Channel.Valid():
		return fmt.Errorf("%w: channel %q", ErrValidation, p.Channel)
	case !p.Status.Valid():
		return fmt.Errorf("%w: status %q", ErrValidation, p.Status)
	}
	return nil
}

// GetTouchCount counts sent touches inside the trailing window. An empty
// channel counts all channels. Read failures return CountSentinel.
func (l *Ledger) GetTouchCount(ctx context.Context, contactID string, channel domain.Channel, window time.Duration) int {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	since := l.now().Add(-window)
	n, err := l.repo.CountSent(ctx, contactID, channel, since)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Error("touch count failed, returning sentinel",
			"contact_id", contactID, "channel", string(channel), "error", err)
		return CountSentinel
	}
	return n
}
