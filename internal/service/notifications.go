package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/notify"
	"calendar-ledger-sync/internal/repository"
	"calendar-ledger-sync/internal/source"
)

const originNotification = "notification"

// RecordNotification enqueues a change signal for an enabled mailbox.
func (s *SyncService) RecordNotification(ctx context.Context, n *model.Notification) error {
	if n.ItemID == "" && n.ICalUID == "" {
		return errors.New("notification needs an item id or an ICalUID")
	}

	sub, ok := s.registry.ByMailbox(n.Mailbox)
	if !ok {
		if _, err := s.RefreshSubscriptions(ctx); err != nil {
			return err
		}
		sub, ok = s.registry.ByMailbox(n.Mailbox)
	}
	if !ok || !sub.Enabled {
		return fmt.Errorf("%w: %s", notify.ErrUnknownMailbox, n.Mailbox)
	}

	n.Mailbox = sub.Mailbox
	if n.ObservedAt.IsZero() {
		n.ObservedAt = s.now()
	}
	return s.repo.CreateNotification(ctx, n)
}

// MailboxForSubscription resolves a subscription id to its mailbox address.
func (s *SyncService) MailboxForSubscription(ctx context.Context, id string) (string, error) {
	sub, ok := s.registry.Get(id)
	if !ok {
		if _, err := s.RefreshSubscriptions(ctx); err != nil {
			return "", err
		}
		if sub, ok = s.registry.Get(id); !ok {
			return "", repository.ErrNotFound
		}
	}
	return sub.Mailbox, nil
}

// ProcessNotifications folds every queued notification into the ledger.
// Notifications failing with a transient error stay queued for the next run.
func (s *SyncService) ProcessNotifications(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration.WithLabelValues("notifications"))
	defer timer.ObserveDuration()

	queued, err := s.repo.ListNotifications(ctx)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}
	if _, err := s.RefreshSubscriptions(ctx); err != nil {
		return err
	}

	byMailbox := make(map[string][]model.Notification)
	var order []string
	for _, n := range queued {
		if _, ok := byMailbox[n.Mailbox]; !ok {
			order = append(order, n.Mailbox)
		}
		byMailbox[n.Mailbox] = append(byMailbox[n.Mailbox], n)
	}

	s.log.WithFields(logrus.Fields{
		"notifications": len(queued),
		"mailboxes":     len(order),
	}).Info("Processing notifications")

	return s.forEachMailbox(ctx, order, func(ctx context.Context, mailbox string) error {
		return s.processMailboxNotifications(ctx, mailbox, byMailbox[mailbox])
	})
}

const unresolvedItemMessage = "item id could not be resolved to a calendar uid"

// fetched is the source view of one notification.
type fetched struct {
	snaps    []model.Snapshot
	uid      string
	master   bool
	notFound bool
	err      error
}

func (s *SyncService) processMailboxNotifications(ctx context.Context, mailbox string, queue []model.Notification) error {
	if sub, ok := s.registry.ByMailbox(mailbox); !ok || !sub.Enabled {
		for _, n := range queue {
			s.archive(ctx, n, model.OutcomeError, 0, "mailbox is not synchronized")
		}
		return nil
	}

	start, end := s.Window()
	results := s.fetch(ctx, queue, start, end)

	unlock := s.locks.Lock(mailbox)
	defer unlock()

	kept := 0
	for i, n := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := s.log.WithFields(logrus.Fields{
			"mailbox":         mailbox,
			"notification_id": n.ID,
			"item_id":         n.ItemID,
			"ical_uid":        n.ICalUID,
		})

		f := results[i]
		switch {
		case f.err != nil && errors.Is(f.err, ErrContract):
			log.WithError(f.err).Error("Calendar source violated its contract")
			s.archive(ctx, n, model.OutcomeError, 0, f.err.Error())
			continue
		case f.err != nil:
			log.WithError(f.err).Warn("Failed to fetch appointment, keeping notification queued")
			kept++
			continue
		}

		var (
			count   int
			err     error
			outcome string
		)
		if f.notFound && f.uid == "" {
			log.Warn("Vanished appointment has no calendar uid, leaving it to the next full pull")
			s.archive(ctx, n, model.OutcomeNotFound, 0, unresolvedItemMessage)
			continue
		}
		if f.notFound {
			count, err = s.deleteVanished(ctx, mailbox, f.uid, start)
			outcome = model.OutcomeNotFound
		} else {
			count, err = s.applySnapshots(ctx, mailbox, f, start, end)
			outcome = model.OutcomeNoChange
			if count > 0 {
				outcome = model.OutcomeAppended
			}
		}
		if err != nil {
			log.WithError(err).Warn("Failed to update ledger, keeping notification queued")
			kept++
			continue
		}
		s.archive(ctx, n, outcome, count, "")
	}

	if kept > 0 {
		return fmt.Errorf("%d notifications left queued", kept)
	}
	return nil
}

// fetch resolves the queue against the calendar source with at most
// FetchWorkers lookups in flight. Results keep the queue order.
func (s *SyncService) fetch(ctx context.Context, queue []model.Notification, start, end time.Time) []fetched {
	type indexed struct {
		i int
		f fetched
	}
	p := pool.NewWithResults[indexed]().WithMaxGoroutines(s.opts.FetchWorkers)
	for i, n := range queue {
		i, n := i, n
		p.Go(func() indexed {
			return indexed{i: i, f: s.fetchOne(ctx, n, start, end)}
		})
	}

	out := make([]fetched, len(queue))
	for _, r := range p.Wait() {
		out[r.i] = r.f
	}
	return out
}

func (s *SyncService) fetchOne(ctx context.Context, n model.Notification, start, end time.Time) fetched {
	var (
		item source.Item
		err  error
	)
	if n.ICalUID != "" {
		item, err = s.source.GetByICalUID(ctx, n.Mailbox, n.ICalUID)
	} else {
		item, err = s.source.GetByID(ctx, n.Mailbox, n.ItemID)
	}
	if errors.Is(err, source.ErrNotFound) {
		// Ledger identities are calendar uids, so a vanished item id names
		// nothing deleteVanished could match.
		return fetched{notFound: true, uid: n.ICalUID}
	}
	if err != nil {
		return fetched{err: err}
	}

	snaps, err := s.expand(ctx, item, start, end)
	if err != nil {
		return fetched{err: err}
	}
	for i := range snaps {
		snaps[i].Mailbox = n.Mailbox
	}
	sortSnapshots(snaps)
	return fetched{snaps: snaps, uid: item.ICalUID(), master: item.Master != nil}
}

// applySnapshots reconciles the fetched snapshots. For a series, occurrences
// the ledger still holds inside the window that the series no longer
// produces are deleted as well.
func (s *SyncService) applySnapshots(ctx context.Context, mailbox string, f fetched, start, end time.Time) (int, error) {
	count := 0
	seen := make(map[string]struct{}, len(f.snaps))
	for _, snap := range f.snaps {
		seen[snap.LogicalID()] = struct{}{}
		ok, err := s.reconcileSnapshot(ctx, snap, originNotification)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	if !f.master {
		return count, nil
	}

	states, err := s.repo.EventsWithLatest(ctx, mailbox)
	if err != nil {
		return count, err
	}
	prefix := seriesPrefix(f.uid)
	deleted, err := s.deleteMissing(ctx, mailbox, states, originNotification, func(st repository.EventState) bool {
		if !strings.HasPrefix(st.Event.LogicalID, prefix) {
			return false
		}
		if _, ok := seen[st.Event.LogicalID]; ok {
			return false
		}
		return IntervalOverlapsWindow(st.Latest.Start, st.Latest.End, start, end)
	})
	return count + deleted, err
}

// deleteVanished appends DELETE entries for an appointment the source no
// longer knows: the single identity uid and every occurrence of a series with
// that uid that has not ended before windowStart.
func (s *SyncService) deleteVanished(ctx context.Context, mailbox, uid string, windowStart time.Time) (int, error) {
	states, err := s.repo.EventsWithLatest(ctx, mailbox)
	if err != nil {
		return 0, err
	}
	prefix := seriesPrefix(uid)
	return s.deleteMissing(ctx, mailbox, states, originNotification, func(st repository.EventState) bool {
		if st.Event.LogicalID == uid {
			return true
		}
		return strings.HasPrefix(st.Event.LogicalID, prefix) && st.Latest.End.After(windowStart)
	})
}

func (s *SyncService) archive(ctx context.Context, n model.Notification, outcome string, entries int, msg string) {
	entry := &model.NotificationLog{
		Mailbox:     n.Mailbox,
		ItemID:      n.ItemID,
		ICalUID:     n.ICalUID,
		ObservedAt:  n.ObservedAt,
		ProcessedAt: s.now(),
		Outcome:     outcome,
		Entries:     entries,
		ErrorMsg:    msg,
	}
	if err := s.repo.ArchiveNotification(ctx, n, entry); err != nil {
		s.log.WithError(err).WithField("notification_id", n.ID).Error("Failed to archive notification")
		return
	}
	s.metrics.NotificationsProcessed.WithLabelValues(outcome).Inc()
}

func (s *SyncService) now() time.Time {
	if s.engine.Now != nil {
		return s.engine.Now()
	}
	return time.Now()
}
