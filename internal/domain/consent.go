package domain

import "time"

// ConsentRecord is an affirmative, revocable permission to contact someone
// over a channel. Several records may exist per contact/channel; any valid
// one suffices.
type ConsentRecord struct {
	ID          string     `json:"id" db:"id"`
	ContactID   string     `json:"contact_id" db:"contact_id"`
	Channel     Channel    `json:"channel" db:"channel"`
	ConsentType string     `json:"consent_type" db:"consent_type"`
	Source      string     `json:"source,omitempty" db:"source"`
	GrantedAt   time.Time  `json:"granted_at" db:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsValid reports whether the consent has not been revoked. A revoked record
// is never valid regardless of when it was granted.
func (c ConsentRecord) IsValid() bool { return c.RevokedAt == nil }

// Matches reports whether the record covers the channel and, when given,
// the consent type.
func (c ConsentRecord) Matches(ch Channel, consentType string) bool {
	if c.Channel != ch {
		return false
	}
	return consentType == "" || c.ConsentType == consentType
}

// Consent types recognised by the gate. Types prefixed with "ai" cover
// automated/AI-generated outreach and produce NO_AI_CONSENT when missing.
const (
	ConsentExpress        = "express"
	ConsentExpressWritten = "express_written"
	ConsentAIVoice        = "ai_voice"
	ConsentAIMessaging    = "ai_messaging"
)

// SuppressionReason enumerates why a contact was suppressed.
type SuppressionReason string

const (
	ReasonOptOut      SuppressionReason = "opt_out"
	ReasonHardBounce  SuppressionReason = "hard_bounce"
	ReasonComplaint   SuppressionReason = "spam_complaint"
	ReasonLitigator   SuppressionReason = "litigator"
	ReasonManual      SuppressionReason = "manual"
	ReasonWrongNumber SuppressionReason = "wrong_number"
)

// SuppressionRecord is a durable "do not contact" flag, scoped to a single
// channel or to ChannelAll.
type SuppressionRecord struct {
	ID            string            `json:"id" db:"id"`
	ContactID     string            `json:"contact_id" db:"contact_id"`
	Channel       Channel           `json:"channel" db:"channel"`
	Reason        SuppressionReason `json:"reason" db:"reason"`
	Source        string            `json:"source,omitempty" db:"source"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	ReactivatedAt *time.Time        `json:"reactivated_at,omitempty" db:"reactivated_at"`
}

// IsActive reports whether the suppression is still in force.
func (s SuppressionRecord) IsActive() bool { return s.ReactivatedAt == nil }

// Covers reports whether the suppression applies to the channel.
func (s SuppressionRecord) Covers(ch Channel) bool {
	return s.Channel == ChannelAll || s.Channel == ch
}
