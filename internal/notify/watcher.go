package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/model"
)

// ErrUnknownMailbox is returned by a Recorder for recipients that are not
// synchronized.
var ErrUnknownMailbox = errors.New("mailbox is not synchronized")

// Recorder enqueues notifications for the ledger.
type Recorder interface {
	RecordNotification(ctx context.Context, n *model.Notification) error
}

// Watcher polls an IMAP folder for invitations
type Watcher struct {
	cfg      *config.IMAPConfig
	recorder Recorder
	log      logrus.FieldLogger

	mu        sync.Mutex
	lastCheck time.Time
	lastUID   uint32

	// Now stamps notifications without a usable Date header.
	Now func() time.Time
}

// NewWatcher creates a new invitation watcher
func NewWatcher(cfg *config.IMAPConfig, recorder Recorder, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		cfg:       cfg,
		recorder:  recorder,
		log:       log,
		lastCheck: time.Now().Add(-24 * time.Hour),
		Now:       time.Now,
	}
}

// Poll fetches messages received since the previous poll and records one
// notification per recipient and VEVENT UID. It returns the number recorded.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(w.cfg.User, w.cfg.Password); err != nil {
		return 0, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	folder := w.cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, true); err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = w.lastCheck
	seqNums, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search messages: %w", err)
	}
	pollStarted := w.Now()
	if len(seqNums) == 0 {
		w.lastCheck = pollStarted
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	recorded := 0
	highest := w.lastUID
	for msg := range messages {
		if msg.Uid <= w.lastUID {
			continue
		}
		if msg.Uid > highest {
			highest = msg.Uid
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		inv, err := ParseInvitation(body)
		if err != nil {
			if !errors.Is(err, errNoCalendar) {
				w.log.WithError(err).WithField("uid", msg.Uid).Warn("Failed to parse invitation")
			}
			continue
		}
		if msg.Envelope != nil {
			inv.Recipients = envelopeRecipients(msg.Envelope)
			inv.Date = msg.Envelope.Date
		}
		recorded += w.Record(ctx, inv)
	}

	if err := <-done; err != nil {
		return recorded, fmt.Errorf("failed to fetch messages: %w", err)
	}

	w.lastUID = highest
	w.lastCheck = pollStarted
	return recorded, nil
}

// Record enqueues the invitation for every synchronized recipient.
func (w *Watcher) Record(ctx context.Context, inv *Invitation) int {
	observed := inv.Date
	if observed.IsZero() {
		observed = w.Now()
	}

	recorded := 0
	for _, rcpt := range inv.Recipients {
		for _, uid := range inv.UIDs {
			n := &model.Notification{Mailbox: rcpt, ICalUID: uid, ObservedAt: observed}
			err := w.recorder.RecordNotification(ctx, n)
			switch {
			case errors.Is(err, ErrUnknownMailbox):
				w.log.WithField("mailbox", rcpt).Debug("Ignoring invitation for unsynchronized mailbox")
			case err != nil:
				w.log.WithError(err).WithFields(logrus.Fields{
					"mailbox":  rcpt,
					"ical_uid": uid,
				}).Error("Failed to record invitation")
			default:
				recorded++
				w.log.WithFields(logrus.Fields{
					"mailbox":  rcpt,
					"ical_uid": uid,
					"method":   inv.Method,
				}).Info("Recorded invitation")
			}
		}
	}
	return recorded
}

func envelopeRecipients(env *imap.Envelope) []string {
	var out []string
	for _, list := range [][]*imap.Address{env.To, env.Cc} {
		for _, addr := range list {
			a := strings.ToLower(addr.Address())
			if a != "" && !contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
