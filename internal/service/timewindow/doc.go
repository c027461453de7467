// Package timewindow decides whether now is an acceptable time to reach out.
//
// Two checks are independent. The legal call-hour check infers the
// contact's timezone from the phone number's area code and allows voice
// calls in [start, end) local hours, 08:00 to 21:00 unless a calling_hours
// rule says otherwise. The area-code table is a best-effort heuristic; unknown
// codes resolve to the configured default zone.
//
// The business-context check compares now against the configured business
// hours, active calendar blocks and the time_restriction rules of the current
// policy. Business hours are a non-safety lookup and fall back to Monday to
// Friday 09:00 to 17:00 when unreadable.
package timewindow
