// Package consent answers whether a contact may be reached on a channel.
//
// The two read paths, IsContactSuppressed and HasValidConsent, are safety
// checks: any read error or timeout produces the restrictive answer
// (suppressed, no consent) and is logged at error level. Write paths return
// errors normally.
package consent
