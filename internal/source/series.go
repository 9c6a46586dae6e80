package source

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teambition/rrule-go"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
)

// Series answers indexed occurrence lookups for one recurrence rule. Modified
// occurrences are returned as their override snapshots and deleted ones are
// reported as such.
type Series struct {
	mu    sync.Mutex
	next  rrule.Next
	times []time.Time
	done  bool

	template  model.Snapshot
	duration  time.Duration
	overrides map[int64]model.Snapshot
	deleted   map[int64]bool
}

// ParseRule parses an RRULE value, with or without its property name.
func ParseRule(raw string) (*rrule.ROption, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", raw, err)
	}
	return opt, nil
}

// PatternFromRule maps a parsed rule onto the recurrence pattern variants.
func PatternFromRule(opt rrule.ROption, dtstart time.Time) (*recurrence.Pattern, recurrence.Range, error) {
	p := &recurrence.Pattern{Interval: opt.Interval}
	rng := recurrence.Range{StartDate: dtstart, Count: opt.Count}
	if !opt.Until.IsZero() {
		until := opt.Until
		rng.EndDate = &until
	}

	days, weekIndex := weekdays(opt)
	if weekIndex == 0 && len(opt.Bysetpos) > 0 {
		weekIndex = opt.Bysetpos[0]
	}

	switch opt.Freq {
	case rrule.DAILY:
		p.Kind = recurrence.Daily
	case rrule.WEEKLY:
		p.Kind = recurrence.Weekly
		p.DaysOfWeek = days
		if len(p.DaysOfWeek) == 0 {
			p.DaysOfWeek = []time.Weekday{dtstart.Weekday()}
		}
	case rrule.MONTHLY:
		if len(days) > 0 && weekIndex != 0 {
			p.Kind = recurrence.RelativeMonthly
			p.DaysOfWeek = days
			p.WeekIndex = weekIndex
		} else {
			p.Kind = recurrence.AbsoluteMonthly
			p.DayOfMonth = firstOr(opt.Bymonthday, dtstart.Day())
		}
	case rrule.YEARLY:
		p.Month = time.Month(firstOr(opt.Bymonth, int(dtstart.Month())))
		if len(days) > 0 && weekIndex != 0 {
			p.Kind = recurrence.RelativeYearly
			p.DaysOfWeek = days
			p.WeekIndex = weekIndex
		} else {
			p.Kind = recurrence.AbsoluteYearly
			p.DayOfMonth = firstOr(opt.Bymonthday, dtstart.Day())
		}
	default:
		return nil, rng, fmt.Errorf("unsupported recurrence frequency %v", opt.Freq)
	}
	return p, rng, nil
}

// NewSeries indexes the occurrences of opt starting at master.Start. The
// master's Deleted starts, and overrides keyed by their InstanceStart, are
// applied to the generated occurrences.
func NewSeries(master *recurrence.Master, opt rrule.ROption, overrides []model.Snapshot) (*Series, error) {
	opt.Dtstart = master.Start
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule for %s: %w", master.ICalUID, err)
	}

	s := &Series{
		next: r.Iterator(),
		template: model.Snapshot{
			ItemID:      master.ItemID,
			ICalUID:     master.ICalUID,
			Mailbox:     master.Mailbox,
			Subject:     master.Subject,
			IsRecurring: true,
		},
		duration:  master.Duration(),
		overrides: make(map[int64]model.Snapshot, len(overrides)),
		deleted:   make(map[int64]bool, len(master.Deleted)),
	}
	for _, d := range master.Deleted {
		s.deleted[d.Unix()] = true
	}
	for _, o := range overrides {
		if o.InstanceStart != nil {
			s.overrides[o.InstanceStart.Unix()] = o
		}
	}
	return s, nil
}

// At returns the occurrence at a 1-based index.
func (s *Series) At(index int) recurrence.OccurrenceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.times) < index && !s.done {
		t, ok := s.next()
		if !ok {
			s.done = true
			break
		}
		s.times = append(s.times, t)
	}
	if index < 1 || index > len(s.times) {
		return recurrence.OccurrenceResult{Status: recurrence.SeriesExhausted}
	}

	orig := s.times[index-1]
	key := orig.Unix()
	if s.deleted[key] {
		return recurrence.OccurrenceResult{Status: recurrence.OccurrenceDeleted}
	}
	if o, ok := s.overrides[key]; ok {
		o.IsRecurring = true
		o.InstanceStart = &orig
		return recurrence.Found(o)
	}

	occ := s.template
	occ.Start = orig
	occ.End = orig.Add(s.duration)
	occ.InstanceStart = &orig
	return recurrence.Found(occ)
}

// weekdays converts BYDAY values; the returned index is the first ordinal
// prefix found (e.g. -1 for "-1FR").
func weekdays(opt rrule.ROption) ([]time.Weekday, int) {
	var days []time.Weekday
	index := 0
	for i := range opt.Byweekday {
		wd := &opt.Byweekday[i]
		// rrule counts from Monday
		days = append(days, time.Weekday((wd.Day()+1)%7))
		if index == 0 && wd.N() != 0 {
			index = wd.N()
		}
	}
	return days, index
}

func firstOr(v []int, def int) int {
	if len(v) > 0 && v[0] > 0 {
		return v[0]
	}
	return def
}

// parseDateList parses the values of an EXDATE or RDATE line such as
// "EXDATE;TZID=Europe/Berlin:20240105T090000,20240106T090000".
func parseDateList(line string, loc *time.Location) ([]time.Time, error) {
	head, values, ok := strings.Cut(line, ":")
	if !ok {
		values, head = line, ""
	}
	for _, param := range strings.Split(head, ";") {
		if tz, found := strings.CutPrefix(param, "TZID="); found {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("load location %q: %w", tz, err)
			}
			loc = l
		}
	}

	var out []time.Time
	for _, v := range strings.Split(values, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t, err := parseICSTime(v, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
