// Package gate is the compliance admission check every outbound contact and
// high-velocity automated action passes through.
//
// AssertCanContact runs an ordered, short-circuiting pipeline; the first
// blocking stage decides the result:
//
//	0 emergency stop          EMERGENCY_STOP
//	1 agent lockdown          LOCKDOWN
//	2 suppression             SUPPRESSED
//	  do-not-contact flag     DNC
//	3 consent                 NO_CONSENT / NO_AI_CONSENT
//	  legal call hours        CALL_TIME_RESTRICTION (voice)
//	4 channel frequency cap   FREQUENCY_CAP_CHANNEL
//	5 total frequency cap     FREQUENCY_CAP_TOTAL
//
// Safety reads (emergency stop, lockdown, suppression, consent, contact) fail
// closed: an error, timeout or cancelled context blocks. Rules configured
// with warn enforcement never block; they surface in CheckResult.Warnings.
//
// Enforce wraps a caller-supplied send function with the check, the touch
// ledger and the audit trail.
package gate
