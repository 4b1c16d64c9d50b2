package settlement

import (
	"fmt"
	"time"
)

// Policy decides when an approved withdrawal becomes eligible for the
// settlement batch.
type Policy interface {
	NextSettlement(approvedAt time.Time) time.Time
}

// CalendarConfig configures the business-day policy
type CalendarConfig struct {
	Timezone       string
	CutoffHour     int      // approvals at or after this local hour count as next-day approvals
	OffsetDays     int      // business days after the approval day, 1 for D+1
	SettlementHour int      // local hour the batch may pick the request up
	Holidays       []string // YYYY-MM-DD, local dates
}

// DefaultCalendarConfig is D+1 on the Brazilian banking calendar clock
func DefaultCalendarConfig() CalendarConfig {
	return CalendarConfig{
		Timezone:       "America/Sao_Paulo",
		CutoffHour:     17,
		OffsetDays:     1,
		SettlementHour: 9,
	}
}

// BusinessDayPolicy schedules settlement a fixed number of business days
// after approval, skipping weekends and configured holidays.
type BusinessDayPolicy struct {
	loc            *time.Location
	cutoffHour     int
	offsetDays     int
	settlementHour int
	holidays       map[string]struct{}
}

// NewBusinessDayPolicy validates cfg and builds the policy
func NewBusinessDayPolicy(cfg CalendarConfig) (*BusinessDayPolicy, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.CutoffHour < 0 || cfg.CutoffHour > 24 {
		return nil, fmt.Errorf("cutoff hour must be between 0 and 24")
	}
	if cfg.SettlementHour < 0 || cfg.SettlementHour > 23 {
		return nil, fmt.Errorf("settlement hour must be between 0 and 23")
	}
	if cfg.OffsetDays < 0 {
		return nil, fmt.Errorf("offset days must not be negative")
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation(time.DateOnly, h, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		holidays[d.Format(time.DateOnly)] = struct{}{}
	}

	return &BusinessDayPolicy{
		loc:            loc,
		cutoffHour:     cfg.CutoffHour,
		offsetDays:     cfg.OffsetDays,
		settlementHour: cfg.SettlementHour,
		holidays:       holidays,
	}, nil
}

// IsBusinessDay reports whether the local date of t is a working day
func (p *BusinessDayPolicy) IsBusinessDay(t time.Time) bool {
	local := t.In(p.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := p.holidays[local.Format(time.DateOnly)]
	return !holiday
}

// NextSettlement returns settlementHour local time on the offsetDays-th
// business day after the effective approval day. Approvals after the
// cutoff, or on a non-business day, are treated as made on the next
// business day.
func (p *BusinessDayPolicy) NextSettlement(approvedAt time.Time) time.Time {
	local := approvedAt.In(p.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)

	if local.Hour() >= p.cutoffHour {
		day = day.AddDate(0, 0, 1)
	}
	for !p.IsBusinessDay(day) {
		day = day.AddDate(0, 0, 1)
	}

	for remaining := p.offsetDays; remaining > 0; {
		day = day.AddDate(0, 0, 1)
		if p.IsBusinessDay(day) {
			remaining--
		}
	}

	return time.Date(day.Year(), day.Month(), day.Day(), p.settlementHour, 0, 0, 0, p.loc).UTC()
}

// FixedDelayPolicy makes requests due a constant delay after approval
type FixedDelayPolicy struct {
	Delay time.Duration
}

func (p FixedDelayPolicy) NextSettlement(approvedAt time.Time) time.Time {
	return approvedAt.Add(p.Delay).UTC()
}
