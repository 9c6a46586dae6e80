package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
)

// ICSFeed reads appointments from one published iCalendar feed per mailbox.
// Items are identified by their UID for both id and ICalUID lookups.
type ICSFeed struct {
	feeds    map[string]string
	client   *http.Client
	location *time.Location
	log      logrus.FieldLogger
	series   *seriesCache
}

// NewICSFeed creates a provider for feeds keyed by mailbox address
func NewICSFeed(feeds map[string]string, timeout time.Duration, loc *time.Location, log logrus.FieldLogger) *ICSFeed {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &ICSFeed{
		feeds:    feeds,
		client:   &http.Client{Timeout: timeout},
		location: loc,
		log:      log,
		series:   newSeriesCache(),
	}
}

func (f *ICSFeed) GetByID(ctx context.Context, mailbox, id string) (Item, error) {
	return f.GetByICalUID(ctx, mailbox, id)
}

func (f *ICSFeed) GetByICalUID(ctx context.Context, mailbox, uid string) (Item, error) {
	items, err := f.load(ctx, mailbox)
	if err != nil {
		return Item{}, err
	}
	for _, item := range items {
		if item.ICalUID() == uid && (item.IsRecurring() || item.Snapshot.InstanceStart == nil) {
			return item, nil
		}
	}
	return Item{}, ErrNotFound
}

// GetByMailbox returns single appointments overlapping the window and every
// series master; masters are limited to the window when unfolded.
func (f *ICSFeed) GetByMailbox(ctx context.Context, mailbox string, start, end time.Time) ([]Item, error) {
	items, err := f.load(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, item := range items {
		if item.IsRecurring() || overlaps(item.Snapshot.Start, item.Snapshot.End, start, end) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *ICSFeed) Occurrence(ctx context.Context, master *recurrence.Master, index int) (recurrence.OccurrenceResult, error) {
	s := f.series.get(master.Mailbox, master.ICalUID)
	if s == nil {
		if _, err := f.load(ctx, master.Mailbox); err != nil {
			return recurrence.OccurrenceResult{}, err
		}
		if s = f.series.get(master.Mailbox, master.ICalUID); s == nil {
			return recurrence.OccurrenceResult{}, fmt.Errorf("series %s is not recurring", master.ICalUID)
		}
	}
	return s.At(index), nil
}

func (f *ICSFeed) load(ctx context.Context, mailbox string) ([]Item, error) {
	url, ok := f.feeds[mailbox]
	if !ok {
		return nil, fmt.Errorf("no ICS feed configured for %s", mailbox)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ICS feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch ICS feed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ICS feed: %w", err)
	}
	return f.Parse(mailbox, body)
}

// Parse converts an iCalendar payload into items for mailbox and indexes its
// recurring series.
func (f *ICSFeed) Parse(mailbox string, body []byte) ([]Item, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ICS feed: %w", err)
	}

	var base []*vevent
	overrides := make(map[string][]*vevent)
	for _, comp := range cal.Events() {
		ev, err := f.parseVEvent(comp)
		if err != nil {
			f.log.WithError(err).WithField("mailbox", mailbox).Warn("Skipping unreadable VEVENT")
			continue
		}
		if ev.recurrenceID != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		} else {
			base = append(base, ev)
		}
	}

	var items []Item
	for _, ev := range base {
		if ev.rrule == "" {
			s := ev.snapshot(mailbox)
			items = append(items, Item{Snapshot: &s})
			continue
		}
		m, err := f.master(mailbox, ev, overrides[ev.uid])
		if err != nil {
			f.log.WithError(err).WithFields(logrus.Fields{"mailbox": mailbox, "ical_uid": ev.uid}).Warn("Skipping unreadable series")
			continue
		}
		items = append(items, Item{Master: m})
	}
	return items, nil
}

func (f *ICSFeed) master(mailbox string, ev *vevent, overrides []*vevent) (*recurrence.Master, error) {
	m := &recurrence.Master{
		ItemID:  ev.uid,
		ICalUID: ev.uid,
		Mailbox: mailbox,
		Subject: ev.summary,
		Start:   ev.start,
		End:     ev.end,
		Deleted: ev.exdates,
	}
	rule, err := ParseRule(ev.rrule)
	if err != nil {
		return nil, err
	}
	m.Pattern, m.Range, err = PatternFromRule(*rule, ev.start)
	if err != nil {
		return nil, err
	}

	var snaps []model.Snapshot
	for _, o := range overrides {
		if o.cancelled {
			m.Deleted = append(m.Deleted, *o.recurrenceID)
			continue
		}
		s := o.snapshot(mailbox)
		snaps = append(snaps, s)
		m.Modified = append(m.Modified, *o.recurrenceID)
	}

	series, err := NewSeries(m, *rule, snaps)
	if err != nil {
		return nil, err
	}
	f.series.put(mailbox, m.ICalUID, series)
	return m, nil
}

type vevent struct {
	uid          string
	summary      string
	start        time.Time
	end          time.Time
	cancelled    bool
	free         bool
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
}

func (v *vevent) snapshot(mailbox string) model.Snapshot {
	return model.Snapshot{
		ItemID:        v.uid,
		ICalUID:       v.uid,
		Mailbox:       mailbox,
		Subject:       v.summary,
		Start:         v.start,
		End:           v.end,
		IsCancelled:   v.cancelled,
		IsFree:        v.free,
		IsRecurring:   v.recurrenceID != nil,
		InstanceStart: v.recurrenceID,
	}
}

func (f *ICSFeed) parseVEvent(ve *ical.VEvent) (*vevent, error) {
	out := &vevent{}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.cancelled = strings.EqualFold(p.Value, "CANCELLED")
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil {
		out.free = strings.EqualFold(p.Value, "TRANSPARENT")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	out.start, out.end = start, end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		dates, err := parseDateList(withTZID(p), start.Location())
		if err != nil {
			return nil, err
		}
		out.exdates = append(out.exdates, dates...)
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		dates, err := parseDateList(withTZID(p), start.Location())
		if err != nil || len(dates) == 0 {
			return nil, fmt.Errorf("invalid RECURRENCE-ID %q", p.Value)
		}
		out.recurrenceID = &dates[0]
	}
	return out, nil
}

// withTZID renders a date property as ";TZID=zone:value" for parseDateList.
func withTZID(p *ical.IANAProperty) string {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		return ";TZID=" + tz[0] + ":" + p.Value
	}
	return p.Value
}
