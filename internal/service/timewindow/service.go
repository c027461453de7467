package timewindow

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// DefaultBusinessHours is used when none are configured or they cannot be
// read: Monday to Friday, 09:00 to 17:00 in the table's default zone.
func DefaultBusinessHours(zone string) domain.BusinessHours {
	return domain.BusinessHours{
		Timezone:   zone,
		StartHour:  9,
		EndHour:    17,
		ActiveDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// CallHourResult is the outcome of the legal call-hour check. Inferred is
// false when the default zone stood in for an unknown location.
type CallHourResult struct {
	Allowed   bool      `json:"allowed"`
	LocalHour int       `json:"local_hour"`
	LocalTime time.Time `json:"local_time"`
	Timezone  string    `json:"timezone"`
	Inferred  bool      `json:"inferred"`
	StartHour int       `json:"start_hour"`
	EndHour   int       `json:"end_hour"`
}

// BusinessContext is the outcome of the business-context check.
type BusinessContext struct {
	CanOutreach     bool      `json:"can_outreach"`
	LocalTime       time.Time `json:"local_time"`
	Timezone        string    `json:"timezone"`
	Reasons         []string  `json:"reasons,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	BlockingRule    string    `json:"blocking_rule,omitempty"`
}

// Evaluator implements both time-window checks.
type Evaluator struct {
	table    *AreaCodeTable
	repo     Repository
	policies PolicySource
	timeout  time.Duration
}

// DefaultLookupTimeout bounds each business-hours and calendar read.
const DefaultLookupTimeout = 250 * time.Millisecond

// NewEvaluator creates an evaluator. repo may be nil, in which case the
// default business hours apply and no calendar blocks exist.
func NewEvaluator(table *AreaCodeTable, repo Repository, policies PolicySource) *Evaluator {
	return &Evaluator{table: table, repo: repo, policies: policies, timeout: DefaultLookupTimeout}
}

// WithLookupTimeout overrides the bound on each repository read.
func (e *Evaluator) WithLookupTimeout(d time.Duration) *Evaluator {
	e.timeout = d
	return e
}

func (e *Evaluator) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Table returns the evaluator's area-code table.
func (e *Evaluator) Table() *AreaCodeTable { return e.table }

// CheckLegalCallHours reports whether now is inside the legal call window at
// the phone number's inferred location.
func (e *Evaluator) CheckLegalCallHours(ctx context.Context, phone string, now time.Time) CallHourResult {
	loc, inferred := e.table.TimezoneForPhone(phone)
	return e.callHours(ctx, loc, inferred, now)
}

// CheckContactCallHours is CheckLegalCallHours with the contact's stored
// timezone taking precedence over the area-code heuristic.
func (e *Evaluator) CheckContactCallHours(ctx context.Context, c domain.Contact, now time.Time) CallHourResult {
	if c.Timezone != "" {
		if loc, err := e.table.Location(c.Timezone); err == nil {
			return e.callHours(ctx, loc, true, now)
		}
		logger.Warn("contact timezone unknown, using area code", "contact_id", c.ID, "timezone", c.Timezone)
	}
	return e.CheckLegalCallHours(ctx, c.Phone, now)
}

func (e *Evaluator) callHours(ctx context.Context, loc *time.Location, inferred bool, now time.Time) CallHourResult {
	start, end := 8, 21
	if e.policies != nil {
		start, end = e.policies.Current(ctx).CallingHours()
	}
	local := now.In(loc)
	hour := local.Hour()
	return CallHourResult{
		Allowed:   hour >= start && hour < end,
		LocalHour: hour,
		LocalTime: local,
		Timezone:  loc.String(),
		Inferred:  inferred,
		StartHour: start,
		EndHour:   end,
	}
}

// CheckBusinessContext evaluates business hours, calendar blocks and the
// time_restriction rules that cover channel. An empty channel evaluates
// channel-agnostic rules only.
func (e *Evaluator) CheckBusinessContext(ctx context.Context, channel domain.Channel, now time.Time) BusinessContext {
	hours := e.businessHours(ctx)
	loc, err := e.table.Location(hours.Timezone)
	if err != nil {
		logger.Warn("business hours timezone unknown, using default", "timezone", hours.Timezone)
		loc, _ = e.table.Location(e.table.DefaultZone())
	}
	local := now.In(loc)

	bc := BusinessContext{CanOutreach: true, LocalTime: local, Timezone: loc.String()}

	if !hours.IsActiveDay(local.Weekday()) {
		bc.block(fmt.Sprintf("%s is not a business day", local.Weekday()))
		bc.Recommendations = append(bc.Recommendations, "Schedule outreach for the next business day")
	} else if local.Hour() < hours.StartHour {
		bc.block(fmt.Sprintf("before business hours (%02d:00)", hours.StartHour))
		bc.Recommendations = append(bc.Recommendations, fmt.Sprintf("Wait until %02d:00 %s", hours.StartHour, loc))
	} else if local.Hour() >= hours.EndHour {
		bc.block(fmt.Sprintf("after business hours (%02d:00)", hours.EndHour))
		bc.Recommendations = append(bc.Recommendations, "Schedule outreach for the next business day")
	}

	for _, b := range e.calendarBlocks(ctx, now) {
		if b.Contains(now) {
			bc.block(fmt.Sprintf("calendar block %q until %s", b.Title, b.EndsAt.In(loc).Format(time.RFC3339)))
			bc.Recommendations = append(bc.Recommendations, "Resume after the calendar block ends")
		}
	}

	if e.policies != nil {
		for _, r := range e.policies.Current(ctx).TimeRestrictions(channel) {
			if !r.Blocks(local) {
				continue
			}
			if r.Enforcement() != domain.EnforceBlock {
				bc.Warnings = append(bc.Warnings, fmt.Sprintf("time restriction %s matched", r.Key()))
				continue
			}
			bc.block(fmt.Sprintf("time restriction %s", r.Key()))
			bc.BlockingRule = r.Key()
			// First matching blocking rule wins.
			break
		}
	}
	return bc
}

func (bc *BusinessContext) block(reason string) {
	bc.CanOutreach = false
	bc.Reasons = append(bc.Reasons, reason)
}

func (e *Evaluator) businessHours(ctx context.Context) domain.BusinessHours {
	def := DefaultBusinessHours(e.table.DefaultZone())
	if e.repo == nil {
		return def
	}
	ctx, cancel := e.lookupContext(ctx)
	defer cancel()
	h, err := e.repo.BusinessHours(ctx)
	if err != nil {
		logger.Warn("business hours unavailable, using defaults", "error", err)
		return def
	}
	if h == nil || h.EndHour <= h.StartHour {
		return def
	}
	if h.Timezone == "" {
		h.Timezone = def.Timezone
	}
	return *h
}

func (e *Evaluator) calendarBlocks(ctx context.Context, now time.Time) []domain.CalendarBlock {
	if e.repo == nil {
		return nil
	}
	ctx, cancel := e.lookupContext(ctx)
	defer cancel()
	blocks, err := e.repo.ActiveCalendarBlocks(ctx, now)
	if err != nil {
		logger.Warn("calendar blocks unavailable, ignoring", "error", err)
		return nil
	}
	return blocks
}
