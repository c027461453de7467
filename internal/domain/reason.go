package domain

// ReasonCode explains why the gate blocked an attempt.
type ReasonCode string

const (
	ReasonEmergencyStop       ReasonCode = "EMERGENCY_STOP"
	ReasonLockdown            ReasonCode = "LOCKDOWN"
	ReasonSuppressed          ReasonCode = "SUPPRESSED"
	ReasonNoConsent           ReasonCode = "NO_CONSENT"
	ReasonNoAIConsent         ReasonCode = "NO_AI_CONSENT"
	ReasonDNC                 ReasonCode = "DNC"
	ReasonFrequencyCapChannel ReasonCode = "FREQUENCY_CAP_CHANNEL"
	ReasonFrequencyCapTotal   ReasonCode = "FREQUENCY_CAP_TOTAL"
	ReasonCallTimeRestriction ReasonCode = "CALL_TIME_RESTRICTION"
	ReasonRateLimit           ReasonCode = "RATE_LIMIT"
)

var reasonMessages = map[ReasonCode]string{
	ReasonEmergencyStop:       "Emergency stop is active; all outbound actions are halted",
	ReasonLockdown:            "Agent is under an active lockdown",
	ReasonSuppressed:          "Contact is suppressed for this channel",
	ReasonNoConsent:           "Contact has no valid consent for this channel",
	ReasonNoAIConsent:         "Contact has no valid consent for automated outreach",
	ReasonDNC:                 "Contact is flagged do-not-contact",
	ReasonFrequencyCapChannel: "Channel frequency cap reached",
	ReasonFrequencyCapTotal:   "Total cross-channel frequency cap reached",
	ReasonCallTimeRestriction: "Outside permitted contact hours",
	ReasonRateLimit:           "Action rate limit reached",
}

// Message returns the default human-readable text for the reason.
func (r ReasonCode) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}
