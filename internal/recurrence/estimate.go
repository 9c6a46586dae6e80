package recurrence

import "time"

// estimator approximates how many occurrences of a series starting at
// seriesStart precede windowStart. Estimates must not exceed the true count.
type estimator func(p Pattern, seriesStart, windowStart time.Time) int

var estimators = map[Kind]estimator{
	Daily:               estimateDaily,
	Weekly:              estimateWeekly,
	AbsoluteMonthly:     estimateMonthly,
	RelativeMonthly:     estimateMonthly,
	AbsoluteYearly:      estimateYearly,
	RelativeYearly:      estimateYearly,
	DailyRegeneration:   estimateDaily,
	WeeklyRegeneration:  estimateWeeklyRegeneration,
	MonthlyRegeneration: estimateMonthly,
	YearlyRegeneration:  estimateYearly,
}

func estimateDaily(p Pattern, seriesStart, windowStart time.Time) int {
	return daysBetween(seriesStart, windowStart) / p.interval()
}

// Each full interval-week span after the series start holds exactly one
// occurrence per selected weekday.
func estimateWeekly(p Pattern, seriesStart, windowStart time.Time) int {
	perWeek := len(p.DaysOfWeek)
	if perWeek == 0 {
		perWeek = 1
	}
	return daysBetween(seriesStart, windowStart) / (7 * p.interval()) * perWeek
}

func estimateWeeklyRegeneration(p Pattern, seriesStart, windowStart time.Time) int {
	return daysBetween(seriesStart, windowStart) / (7 * p.interval())
}

// Days past the 28th do not exist in every month; halving keeps the estimate
// below the true count whichever months the interval lands on.
func estimateMonthly(p Pattern, seriesStart, windowStart time.Time) int {
	n := monthsBetween(seriesStart, windowStart) / p.interval()
	if p.Kind == AbsoluteMonthly && p.DayOfMonth > 28 {
		n /= 2
	}
	return n
}

func estimateYearly(p Pattern, seriesStart, windowStart time.Time) int {
	n := monthsBetween(seriesStart, windowStart) / 12 / p.interval()
	if p.Kind == AbsoluteYearly && p.Month == time.February && p.DayOfMonth == 29 {
		n /= 4
	}
	return n
}

// daysBetween counts whole calendar days from a to b, zero when b is not after a.
func daysBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	b = b.In(a.Location())
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// monthsBetween counts whole months from a to b, zero when b is not after a.
func monthsBetween(a, b time.Time) int {
	if !b.After(a) {
		return 0
	}
	b = b.In(a.Location())
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// startIndex returns the 1-based occurrence index to begin fetching from.
func startIndex(m *Master, windowStart time.Time, buffer int) int {
	if buffer < 1 {
		buffer = 1
	}
	est, ok := estimators[m.Pattern.Kind]
	if !ok {
		return 1
	}
	seriesStart := m.Range.StartDate
	if seriesStart.IsZero() {
		seriesStart = m.Start
	}
	index := est(*m.Pattern, seriesStart, windowStart) + 1 - buffer
	if index < 1 {
		return 1
	}
	return index
}
