package source

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
)

func TestPatternFromRule(t *testing.T) {
	dtstart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // Monday

	tests := []struct {
		rule  string
		kind  recurrence.Kind
		check func(t *testing.T, p *recurrence.Pattern, r recurrence.Range)
	}{
		{"FREQ=DAILY;COUNT=10", recurrence.Daily, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, 10, r.Count)
			assert.Nil(t, r.EndDate)
		}},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE", recurrence.Weekly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, 2, p.Interval)
			assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, p.DaysOfWeek)
		}},
		{"FREQ=WEEKLY", recurrence.Weekly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, []time.Weekday{time.Monday}, p.DaysOfWeek)
		}},
		{"FREQ=MONTHLY;BYMONTHDAY=31;UNTIL=20241231T000000Z", recurrence.AbsoluteMonthly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, 31, p.DayOfMonth)
			require.NotNil(t, r.EndDate)
			assert.Equal(t, 2024, r.EndDate.Year())
		}},
		{"FREQ=MONTHLY;BYDAY=-1FR", recurrence.RelativeMonthly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, -1, p.WeekIndex)
			assert.Equal(t, []time.Weekday{time.Friday}, p.DaysOfWeek)
		}},
		{"FREQ=MONTHLY;BYDAY=TU;BYSETPOS=2", recurrence.RelativeMonthly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, 2, p.WeekIndex)
		}},
		{"FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=29", recurrence.AbsoluteYearly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, time.February, p.Month)
			assert.Equal(t, 29, p.DayOfMonth)
		}},
		{"FREQ=YEARLY;BYMONTH=11;BYDAY=4TH", recurrence.RelativeYearly, func(t *testing.T, p *recurrence.Pattern, r recurrence.Range) {
			assert.Equal(t, time.November, p.Month)
			assert.Equal(t, 4, p.WeekIndex)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			opt, err := ParseRule(tt.rule)
			require.NoError(t, err)
			p, r, err := PatternFromRule(*opt, dtstart)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, dtstart, r.StartDate)
			tt.check(t, p, r)
		})
	}
}

func TestPatternFromRuleRejectsSubDaily(t *testing.T) {
	opt, err := ParseRule("FREQ=HOURLY;COUNT=3")
	require.NoError(t, err)
	_, _, err = PatternFromRule(*opt, time.Now())
	assert.Error(t, err)
}

func newDailyMaster(t *testing.T, rule string) (*recurrence.Master, *Series) {
	t.Helper()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	m := &recurrence.Master{
		ItemID:  "item-1",
		ICalUID: "uid-1",
		Mailbox: "a@example.com",
		Start:   start,
		End:     start.Add(time.Hour),
		Deleted: []time.Time{start.Add(2 * 24 * time.Hour)},
	}
	opt, err := ParseRule(rule)
	require.NoError(t, err)
	m.Pattern, m.Range, err = PatternFromRule(*opt, start)
	require.NoError(t, err)

	moved := start.Add(3 * 24 * time.Hour)
	override := model.Snapshot{
		ItemID:        "item-1-ex",
		ICalUID:       "uid-1",
		Mailbox:       "a@example.com",
		Start:         moved.Add(2 * time.Hour),
		End:           moved.Add(3 * time.Hour),
		InstanceStart: &moved,
	}
	s, err := NewSeries(m, *opt, []model.Snapshot{override})
	require.NoError(t, err)
	return m, s
}

func TestSeriesAt(t *testing.T) {
	_, s := newDailyMaster(t, "FREQ=DAILY;COUNT=5")
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	first := s.At(1)
	require.Equal(t, recurrence.OccurrenceFound, first.Status)
	assert.Equal(t, start, first.Snapshot.Start)
	assert.Equal(t, start.Add(time.Hour), first.Snapshot.End)
	assert.True(t, first.Snapshot.IsRecurring)
	assert.Equal(t, "uid-1_20240101T090000Z", first.Snapshot.LogicalID())

	assert.Equal(t, recurrence.OccurrenceDeleted, s.At(3).Status)

	moved := s.At(4)
	require.Equal(t, recurrence.OccurrenceFound, moved.Status)
	assert.Equal(t, 11, moved.Snapshot.Start.Hour())
	assert.Equal(t, "uid-1_20240104T090000Z", moved.Snapshot.LogicalID())

	assert.Equal(t, recurrence.SeriesExhausted, s.At(6).Status)
	// Earlier indices remain available after the iterator is drained.
	assert.Equal(t, recurrence.OccurrenceFound, s.At(2).Status)
	assert.Equal(t, recurrence.SeriesExhausted, s.At(0).Status)
}

type seriesSource struct {
	s *Series
}

func (src seriesSource) Occurrence(_ context.Context, _ *recurrence.Master, index int) (recurrence.OccurrenceResult, error) {
	return src.s.At(index), nil
}

func TestSeriesUnfoldsDailyCountWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	m := &recurrence.Master{ICalUID: "uid-2", Mailbox: "a@example.com", Start: start, End: start.Add(time.Hour)}
	opt, err := ParseRule("FREQ=DAILY;INTERVAL=1;COUNT=10")
	require.NoError(t, err)
	m.Pattern, m.Range, err = PatternFromRule(*opt, start)
	require.NoError(t, err)
	s, err := NewSeries(m, *opt, nil)
	require.NoError(t, err)

	got, err := recurrence.Unfolder{}.Unfold(context.Background(), seriesSource{s}, m,
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 5, got[0].Start.Day())
	assert.Equal(t, 6, got[1].Start.Day())
	assert.Equal(t, 7, got[2].Start.Day())
}

func TestParseDateList(t *testing.T) {
	dates, err := parseDateList("EXDATE;TZID=Europe/Berlin:20240105T090000,20240106T090000", time.UTC)
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, 8, dates[0].UTC().Hour())

	dates, err = parseDateList("EXDATE:20240105T090000Z", time.Local)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.Equal(t, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), dates[0])

	dates, err = parseDateList("20240105", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), dates[0])

	_, err = parseDateList("EXDATE;TZID=Nowhere/Land:20240105T090000", time.UTC)
	assert.Error(t, err)
}
