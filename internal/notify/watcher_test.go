package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/model"
)

const invitationMail = `From: organizer@example.com
To: a@example.com, b@example.com
Subject: Invitation: Planning
Date: Wed, 10 Jan 2024 08:00:00 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

You have been invited.
--inner
Content-Type: text/calendar; charset=utf-8; method=REQUEST

BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
METHOD:REQUEST
BEGIN:VEVENT
UID:planning-1
DTSTART:20240110T090000Z
DTEND:20240110T100000Z
SUMMARY:Planning
END:VEVENT
END:VCALENDAR
--inner--
--outer
Content-Type: application/ics; name="invite.ics"
Content-Disposition: attachment; filename="invite.ics"

BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:planning-1
DTSTART:20240110T090000Z
DTEND:20240110T100000Z
END:VEVENT
BEGIN:VEVENT
UID:planning-2
DTSTART:20240111T090000Z
DTEND:20240111T100000Z
END:VEVENT
END:VCALENDAR
--outer--
`

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestParseInvitation(t *testing.T) {
	inv, err := ParseInvitation(strings.NewReader(crlf(invitationMail)))
	require.NoError(t, err)
	assert.Equal(t, "REQUEST", inv.Method)
	assert.Equal(t, []string{"planning-1", "planning-2"}, inv.UIDs)
}

func TestParseInvitationWithoutCalendar(t *testing.T) {
	mail := "From: a@example.com\r\nTo: b@example.com\r\nContent-Type: text/plain\r\n\r\nhello\r\n"
	_, err := ParseInvitation(strings.NewReader(mail))
	assert.True(t, errors.Is(err, errNoCalendar))
}

type fakeRecorder struct {
	known map[string]bool
	got   []model.Notification
}

func (f *fakeRecorder) RecordNotification(_ context.Context, n *model.Notification) error {
	if !f.known[n.Mailbox] {
		return ErrUnknownMailbox
	}
	f.got = append(f.got, *n)
	return nil
}

func TestWatcherRecord(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := &fakeRecorder{known: map[string]bool{"a@example.com": true}}
	w := NewWatcher(&config.IMAPConfig{}, rec, log)
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	w.Now = func() time.Time { return now }

	n := w.Record(context.Background(), &Invitation{
		Recipients: []string{"a@example.com", "stranger@example.com"},
		UIDs:       []string{"planning-1", "planning-2"},
	})
	assert.Equal(t, 2, n)
	require.Len(t, rec.got, 2)
	assert.Equal(t, "planning-1", rec.got[0].ICalUID)
	assert.Equal(t, "a@example.com", rec.got[0].Mailbox)
	assert.Equal(t, now, rec.got[0].ObservedAt)
}

func TestEnvelopeRecipients(t *testing.T) {
	env := &imap.Envelope{
		To: []*imap.Address{{MailboxName: "A", HostName: "Example.com"}, {MailboxName: "b", HostName: "example.com"}},
		Cc: []*imap.Address{{MailboxName: "a", HostName: "example.com"}},
	}
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, envelopeRecipients(env))
}

func TestPollHonoursCancelledContext(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := NewWatcher(&config.IMAPConfig{Host: "127.0.0.1", Port: 1}, &fakeRecorder{}, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
