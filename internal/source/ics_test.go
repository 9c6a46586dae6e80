package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-ledger-sync/internal/recurrence"
)

const sampleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calendar-ledger-sync//test//EN
BEGIN:VEVENT
UID:single-1
SUMMARY:Planning
DTSTART:20240110T090000Z
DTEND:20240110T100000Z
END:VEVENT
BEGIN:VEVENT
UID:free-1
SUMMARY:Focus
TRANSP:TRANSPARENT
DTSTART:20240111T090000Z
DTEND:20240111T100000Z
END:VEVENT
BEGIN:VEVENT
UID:series-1
SUMMARY:Standup
DTSTART:20240101T090000Z
DTEND:20240101T091500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20240103T090000Z
END:VEVENT
BEGIN:VEVENT
UID:series-1
SUMMARY:Standup (moved)
RECURRENCE-ID:20240104T090000Z
DTSTART:20240104T110000Z
DTEND:20240104T111500Z
END:VEVENT
BEGIN:VEVENT
UID:series-1
RECURRENCE-ID:20240105T090000Z
STATUS:CANCELLED
DTSTART:20240105T090000Z
DTEND:20240105T091500Z
END:VEVENT
BEGIN:VEVENT
UID:old-1
SUMMARY:Retro
DTSTART:20230110T090000Z
DTEND:20230110T100000Z
END:VEVENT
END:VCALENDAR
`

func feedBody() string {
	return strings.ReplaceAll(sampleFeed, "\n", "\r\n")
}

func newTestFeed(t *testing.T) (*ICSFeed, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(feedBody()))
	}))
	t.Cleanup(srv.Close)

	log, _ := test.NewNullLogger()
	feeds := map[string]string{
		"a@example.com": srv.URL + "/a.ics",
		"b@example.com": srv.URL + "/missing.ics",
	}
	return NewICSFeed(feeds, time.Second, time.UTC, log), srv
}

func TestICSFeedParse(t *testing.T) {
	f, _ := newTestFeed(t)
	items, err := f.Parse("a@example.com", []byte(feedBody()))
	require.NoError(t, err)
	require.Len(t, items, 4)

	byUID := make(map[string]Item)
	for _, item := range items {
		byUID[item.ICalUID()] = item
	}

	single := byUID["single-1"]
	require.NotNil(t, single.Snapshot)
	assert.Equal(t, "Planning", single.Snapshot.Subject)
	assert.Equal(t, time.Hour, single.Snapshot.End.Sub(single.Snapshot.Start))
	assert.Equal(t, "a@example.com", single.Snapshot.Mailbox)

	free := byUID["free-1"]
	require.NotNil(t, free.Snapshot)
	assert.True(t, free.Snapshot.IsFree)
	assert.True(t, free.Snapshot.Inactive())

	series := byUID["series-1"]
	require.True(t, series.IsRecurring())
	m := series.Master
	assert.Equal(t, recurrence.Daily, m.Pattern.Kind)
	assert.Equal(t, 10, m.Range.Count)
	assert.Len(t, m.Deleted, 2)
	assert.Len(t, m.Modified, 1)
}

func TestICSFeedUnfoldAppliesExceptions(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	item, err := f.GetByICalUID(ctx, "a@example.com", "series-1")
	require.NoError(t, err)
	require.True(t, item.IsRecurring())

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	got, err := recurrence.Unfolder{}.Unfold(ctx, f, item.Master, start, end)
	require.NoError(t, err)

	var live, deleted []string
	for _, s := range got {
		if s.IsDeleted {
			deleted = append(deleted, s.LogicalID())
			continue
		}
		live = append(live, s.LogicalID())
	}
	assert.Equal(t, []string{
		"series-1_20240102T090000Z",
		"series-1_20240104T090000Z",
		"series-1_20240106T090000Z",
	}, live)
	assert.ElementsMatch(t, []string{
		"series-1_20240103T090000Z",
		"series-1_20240105T090000Z",
	}, deleted)

	for _, s := range got {
		if s.LogicalID() == "series-1_20240104T090000Z" {
			assert.Equal(t, 11, s.Start.Hour())
		}
	}
}

func TestICSFeedGetByMailboxFiltersWindow(t *testing.T) {
	f, _ := newTestFeed(t)
	items, err := f.GetByMailbox(context.Background(), "a@example.com",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var uids []string
	for _, item := range items {
		uids = append(uids, item.ICalUID())
	}
	assert.ElementsMatch(t, []string{"single-1", "free-1", "series-1"}, uids)
}

func TestICSFeedErrors(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx := context.Background()

	_, err := f.GetByID(ctx, "a@example.com", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.GetByID(ctx, "b@example.com", "single-1")
	assert.Error(t, err)

	_, err = f.GetByID(ctx, "c@example.com", "single-1")
	assert.Error(t, err)

	_, err = f.Parse("a@example.com", nil)
	assert.Error(t, err)
}
