package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// Ledger implements consent and suppression lookups. It is safe for
// concurrent use.
type Ledger struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
}

// NewLedger creates a ledger whose safety reads are bounded by timeout.
// A zero timeout leaves the caller's context deadline in charge.
func NewLedger(repo Repository, timeout time.Duration) *Ledger {
	return &Ledger{repo: repo, timeout: timeout, now: time.Now}
}

// WithClock overrides the clock used to stamp new records.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// IsContactSuppressed reports whether any active suppression covers the
// channel. Read failures report true.
func (l *Ledger) IsContactSuppressed(ctx context.Context, contactID string, channel domain.Channel) bool {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	suppressed, err := l.repo.IsSuppressed(ctx, contactID, channel)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Error("suppression check failed, treating contact as suppressed",
			"contact_id", contactID, "channel", string(channel), "error", err)
		return true
	}
	return suppressed
}

// HasValidConsent reports whether an unrevoked consent record exists for the
// channel and, if given, the consent type. Read failures report false.
func (l *Ledger) HasValidConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string) bool {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	ok, err := l.repo.HasValidConsent(ctx, contactID, channel, consentType)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		logger.Error("consent check failed, treating contact as unconsented",
			"contact_id", contactID, "channel", string(channel), "consent_type", consentType, "error", err)
		return false
	}
	return ok
}

// GrantConsent records a new consent for the channel.
func (l *Ledger) GrantConsent(ctx context.Context, contactID string, channel domain.Channel, consentType, source string) (*domain.ConsentRecord, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, ErrContactRequired
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if consentType == "" {
		consentType = domain.ConsentExpress
	}

	rec := &domain.ConsentRecord{
		ID:          uuid.New().String(),
		ContactID:   contactID,
		Channel:     channel,
		ConsentType: consentType,
		Source:      source,
		GrantedAt:   l.now().UTC(),
	}
	if err := l.repo.InsertConsent(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert consent: %w", err)
	}
	return rec, nil
}

// RevokeConsent revokes every valid matching consent. An empty consentType
// revokes all types. Returns ErrNotFound when nothing was revoked.
func (l *Ledger) RevokeConsent(ctx context.Context, contactID string, channel domain.Channel, consentType string) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrContactRequired
	}
	if !channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	n, err := l.repo.RevokeConsent(ctx, contactID, channel, consentType, l.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Suppress adds a suppression for the channel, or for every channel when
// channel is domain.ChannelAll. Idempotent.
func (l *Ledger) Suppress(ctx context.Context, contactID string, channel domain.Channel, reason domain.SuppressionReason, source string) error {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return ErrContactRequired
	}
	if channel != domain.ChannelAll && !channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if reason == "" {
		reason = domain.ReasonManual
	}

	rec := &domain.SuppressionRecord{
		ID:        uuid.New().String(),
		ContactID: contactID,
		Channel:   channel,
		Reason:    reason,
		Source:    source,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Suppress(ctx, rec); err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

// Reactivate lifts active suppressions for exactly this scope. Lifting a
// channel suppression leaves an "all" suppression in place.
func (l *Ledger) Reactivate(ctx context.Context, contactID string, channel domain.Channel) error {
	if strings.TrimSpace(contactID) == "" {
		return ErrContactRequired
	}
	n, err := l.repo.Reactivate(ctx, contactID, channel, l.now().UTC())
	if err != nil {
		return fmt.Errorf("reactivate: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Summary is a contact's consent and suppression state.
type Summary struct {
	ContactID    string                     `json:"contact_id"`
	Consent      []domain.ConsentRecord     `json:"consent"`
	Suppressions []domain.SuppressionRecord `json:"suppressions"`
}

// Summarize returns every consent and suppression record for a contact.
func (l *Ledger) Summarize(ctx context.Context, contactID string) (*Summary, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, ErrContactRequired
	}
	consent, err := l.repo.ListConsent(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("list consent: %w", err)
	}
	suppressions, err := l.repo.ListSuppressions(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	return &Summary{ContactID: contactID, Consent: consent, Suppressions: suppressions}, nil
}
