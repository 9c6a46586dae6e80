package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
)

// EventsAPI is the subset of the Google Calendar events API the provider
// uses. Calendar ids are mailbox addresses.
type EventsAPI interface {
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	FindEventsByICalUID(ctx context.Context, calendarID, uid string) ([]*calendar.Event, error)
	GetEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error)
}

// GoogleCalendar reads appointments from Google Calendar.
type GoogleCalendar struct {
	api      EventsAPI
	location *time.Location
	log      logrus.FieldLogger
	series   *seriesCache
}

// NewGoogleCalendar creates a provider authenticated with a refresh token
func NewGoogleCalendar(ctx context.Context, cfg *config.SourceConfig, loc *time.Location, log logrus.FieldLogger) (*GoogleCalendar, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	svc, err := calendar.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return NewGoogleCalendarWithAPI(&serviceAPI{svc: svc}, loc, log), nil
}

// NewGoogleCalendarWithAPI creates a provider on top of an existing client.
func NewGoogleCalendarWithAPI(api EventsAPI, loc *time.Location, log logrus.FieldLogger) *GoogleCalendar {
	if loc == nil {
		loc = time.Local
	}
	return &GoogleCalendar{api: api, location: loc, log: log, series: newSeriesCache()}
}

func (g *GoogleCalendar) GetByID(ctx context.Context, mailbox, id string) (Item, error) {
	ev, err := g.api.GetEvent(ctx, mailbox, id)
	if err != nil {
		return Item{}, err
	}
	uid := ev.ICalUID
	if uid == "" {
		uid = ev.Id
	}
	return g.GetByICalUID(ctx, mailbox, uid)
}

func (g *GoogleCalendar) GetByICalUID(ctx context.Context, mailbox, uid string) (Item, error) {
	events, err := g.api.FindEventsByICalUID(ctx, mailbox, uid)
	if err != nil {
		return Item{}, err
	}
	items, err := g.itemsFromEvents(mailbox, events)
	if err != nil {
		return Item{}, err
	}
	for _, item := range items {
		if item.ICalUID() == uid && (item.IsRecurring() || item.Snapshot.InstanceStart == nil) {
			return item, nil
		}
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return Item{}, ErrNotFound
}

func (g *GoogleCalendar) GetByMailbox(ctx context.Context, mailbox string, start, end time.Time) ([]Item, error) {
	events, err := g.api.GetEvents(ctx, mailbox, start, end)
	if err != nil {
		return nil, err
	}
	return g.itemsFromEvents(mailbox, events)
}

// Occurrence returns the occurrence at index, rebuilding the series from the
// API when it was not produced by an earlier lookup.
func (g *GoogleCalendar) Occurrence(ctx context.Context, master *recurrence.Master, index int) (recurrence.OccurrenceResult, error) {
	s := g.series.get(master.Mailbox, master.ICalUID)
	if s == nil {
		if _, err := g.GetByICalUID(ctx, master.Mailbox, master.ICalUID); err != nil {
			return recurrence.OccurrenceResult{}, err
		}
		if s = g.series.get(master.Mailbox, master.ICalUID); s == nil {
			return recurrence.OccurrenceResult{}, fmt.Errorf("series %s is not recurring", master.ICalUID)
		}
	}
	return s.At(index), nil
}

// itemsFromEvents groups masters with their exceptions. Exceptions without a
// master in the result are returned as single snapshots.
func (g *GoogleCalendar) itemsFromEvents(mailbox string, events []*calendar.Event) ([]Item, error) {
	masters := make(map[string]*calendar.Event)
	exceptions := make(map[string][]*calendar.Event)
	var singles []*calendar.Event

	for _, ev := range events {
		switch {
		case len(ev.Recurrence) > 0:
			masters[ev.Id] = ev
		case ev.RecurringEventId != "":
			exceptions[ev.RecurringEventId] = append(exceptions[ev.RecurringEventId], ev)
		default:
			singles = append(singles, ev)
		}
	}

	var items []Item
	for _, ev := range singles {
		s, err := g.snapshot(mailbox, ev)
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"mailbox": mailbox, "item_id": ev.Id}).Warn("Skipping unreadable event")
			continue
		}
		items = append(items, Item{Snapshot: &s})
	}

	for id, ev := range masters {
		m, err := g.master(mailbox, ev, exceptions[id])
		if err != nil {
			g.log.WithError(err).WithFields(logrus.Fields{"mailbox": mailbox, "item_id": ev.Id}).Warn("Skipping unreadable series")
			continue
		}
		items = append(items, Item{Master: m})
		delete(exceptions, id)
	}

	for _, orphans := range exceptions {
		for _, ev := range orphans {
			s, err := g.snapshot(mailbox, ev)
			if err != nil {
				continue
			}
			items = append(items, Item{Snapshot: &s})
		}
	}
	return items, nil
}

func (g *GoogleCalendar) master(mailbox string, ev *calendar.Event, exceptions []*calendar.Event) (*recurrence.Master, error) {
	start, err := g.eventTime(ev.Start)
	if err != nil {
		return nil, err
	}
	end, err := g.eventTime(ev.End)
	if err != nil {
		return nil, err
	}

	m := &recurrence.Master{
		ItemID:  ev.Id,
		ICalUID: ev.ICalUID,
		Mailbox: mailbox,
		Subject: ev.Summary,
		Start:   start,
		End:     end,
	}

	var rawRule string
	for _, line := range ev.Recurrence {
		switch {
		case strings.HasPrefix(line, "RRULE"):
			rawRule = line
		case strings.HasPrefix(line, "EXDATE"):
			dates, err := parseDateList(line, start.Location())
			if err != nil {
				return nil, err
			}
			m.Deleted = append(m.Deleted, dates...)
		}
	}
	if rawRule == "" {
		return nil, fmt.Errorf("event %s has no RRULE", ev.Id)
	}

	rule, err := ParseRule(rawRule)
	if err != nil {
		return nil, err
	}
	m.Pattern, m.Range, err = PatternFromRule(*rule, start)
	if err != nil {
		return nil, err
	}

	var overrides []model.Snapshot
	for _, ex := range exceptions {
		orig, err := g.eventTime(ex.OriginalStartTime)
		if err != nil {
			continue
		}
		if ex.Status == "cancelled" {
			m.Deleted = append(m.Deleted, orig)
			continue
		}
		s, err := g.snapshot(mailbox, ex)
		if err != nil {
			continue
		}
		s.InstanceStart = &orig
		overrides = append(overrides, s)
		m.Modified = append(m.Modified, orig)
	}

	series, err := NewSeries(m, *rule, overrides)
	if err != nil {
		return nil, err
	}
	g.series.put(mailbox, m.ICalUID, series)
	return m, nil
}

func (g *GoogleCalendar) snapshot(mailbox string, ev *calendar.Event) (model.Snapshot, error) {
	start, err := g.eventTime(ev.Start)
	if err != nil {
		return model.Snapshot{}, err
	}
	end, err := g.eventTime(ev.End)
	if err != nil {
		return model.Snapshot{}, err
	}
	s := model.Snapshot{
		ItemID:      ev.Id,
		ICalUID:     ev.ICalUID,
		Mailbox:     mailbox,
		Subject:     ev.Summary,
		Start:       start,
		End:         end,
		IsCancelled: ev.Status == "cancelled",
		IsFree:      ev.Transparency == "transparent",
		IsRecurring: ev.RecurringEventId != "",
	}
	if ev.OriginalStartTime != nil && ev.RecurringEventId != "" {
		if orig, err := g.eventTime(ev.OriginalStartTime); err == nil {
			s.InstanceStart = &orig
		}
	}
	return s, nil
}

func (g *GoogleCalendar) eventTime(t *calendar.EventDateTime) (time.Time, error) {
	if t == nil {
		return time.Time{}, errors.New("missing event time")
	}
	zone, hasZone := g.zone(t.TimeZone)
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		// Keep the named zone so rule expansion follows its DST changes.
		if hasZone {
			v = v.In(zone)
		}
		return v, nil
	}
	return time.ParseInLocation("2006-01-02", t.Date, zone)
}

// zone resolves an IANA zone name, falling back to the configured location.
func (g *GoogleCalendar) zone(name string) (*time.Location, bool) {
	if name == "" {
		return g.location, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		g.log.WithError(err).WithField("time_zone", name).Warn("Unknown event time zone")
		return g.location, false
	}
	return loc, true
}

// serviceAPI calls the real Calendar service.
type serviceAPI struct {
	svc *calendar.Service
}

func (a *serviceAPI) GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	ev, err := a.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "failed to get event")
	}
	return ev, nil
}

func (a *serviceAPI) FindEventsByICalUID(ctx context.Context, calendarID, uid string) ([]*calendar.Event, error) {
	var out []*calendar.Event
	call := a.svc.Events.List(calendarID).ICalUID(uid).SingleEvents(false).ShowDeleted(true)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		out = append(out, page.Items...)
		return nil
	})
	if err != nil {
		return nil, wrapAPIError(err, "failed to list events")
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (a *serviceAPI) GetEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*calendar.Event, error) {
	var out []*calendar.Event
	call := a.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(false).
		ShowDeleted(true)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		out = append(out, page.Items...)
		return nil
	})
	if err != nil {
		return nil, wrapAPIError(err, "failed to list events")
	}
	return out, nil
}

func wrapAPIError(err error, msg string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
