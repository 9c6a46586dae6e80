// Package recurrence expands recurring appointment series into the concrete
// occurrences that fall inside a date window.
package recurrence

import (
	"fmt"
	"time"
)

// Kind identifies a recurrence pattern variant.
type Kind int

const (
	Daily Kind = iota
	Weekly
	AbsoluteMonthly
	RelativeMonthly
	AbsoluteYearly
	RelativeYearly
	DailyRegeneration
	WeeklyRegeneration
	MonthlyRegeneration
	YearlyRegeneration
)

var kindNames = map[Kind]string{
	Daily:               "daily",
	Weekly:              "weekly",
	AbsoluteMonthly:     "absolute_monthly",
	RelativeMonthly:     "relative_monthly",
	AbsoluteYearly:      "absolute_yearly",
	RelativeYearly:      "relative_yearly",
	DailyRegeneration:   "daily_regeneration",
	WeeklyRegeneration:  "weekly_regeneration",
	MonthlyRegeneration: "monthly_regeneration",
	YearlyRegeneration:  "yearly_regeneration",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Pattern describes how a series repeats. Only the fields relevant to Kind
// are meaningful: DaysOfWeek for weekly and relative patterns, DayOfMonth for
// absolute monthly/yearly, WeekIndex for relative patterns (1..4, -1 = last)
// and Month for yearly patterns.
type Pattern struct {
	Kind       Kind
	Interval   int
	DaysOfWeek []time.Weekday
	DayOfMonth int
	WeekIndex  int
	Month      time.Month
}

// Range bounds a series. EndDate is nil for series without an end date and
// Count is zero for series without an occurrence limit.
type Range struct {
	StartDate time.Time
	EndDate   *time.Time
	Count     int
}

// Master is a recurring series as reported by the calendar source.
type Master struct {
	ItemID  string
	ICalUID string
	Mailbox string
	Subject string

	// Start and End are the first occurrence's times; their difference is
	// the duration of every generated occurrence.
	Start time.Time
	End   time.Time

	Pattern *Pattern
	Range   Range

	// Modified lists the original starts of occurrences that were edited.
	Modified []time.Time
	// Deleted lists the original starts of occurrences removed from the series.
	Deleted []time.Time
}

// Duration returns the length of one occurrence.
func (m *Master) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

func (p Pattern) interval() int {
	if p.Interval < 1 {
		return 1
	}
	return p.Interval
}
