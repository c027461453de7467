package domain

import "time"

// BusinessHours is the configured outreach window in the business's own
// timezone. Days use time.Weekday numbering (Sunday = 0).
type BusinessHours struct {
	Timezone   string         `json:"timezone" db:"timezone"`
	StartHour  int            `json:"start_hour" db:"start_hour"`
	EndHour    int            `json:"end_hour" db:"end_hour"`
	ActiveDays []time.Weekday `json:"active_days" db:"active_days"`
}

// IsActiveDay reports whether d is an outreach day.
func (b BusinessHours) IsActiveDay(d time.Weekday) bool {
	for _, a := range b.ActiveDays {
		if a == d {
			return true
		}
	}
	return false
}

// CalendarBlock suspends outreach for its interval (holidays, events).
type CalendarBlock struct {
	ID       string    `json:"id" db:"id"`
	Title    string    `json:"title" db:"title"`
	StartsAt time.Time `json:"starts_at" db:"starts_at"`
	EndsAt   time.Time `json:"ends_at" db:"ends_at"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

// Contains reports whether t falls inside the block's [start, end) interval.
func (c CalendarBlock) Contains(t time.Time) bool {
	return c.IsActive && !t.Before(c.StartsAt) && t.Before(c.EndsAt)
}
