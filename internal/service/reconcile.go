package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/remote"
	"calendar-ledger-sync/internal/repository"
)

const originReconcile = "reconcile"

// SynchronizeCalendarEvents compares the ledger with a fresh listing of the
// remote scheduling service over the active window.
//
// Remote appointments unknown to the ledger, or whose local event was already
// deleted and dispatched, get a DELETE entry. Active local events whose
// current entry was dispatched, is not a DELETE and overlaps the window, but
// which the remote side does not list, get a CREATE with the same interval.
func (s *SyncService) SynchronizeCalendarEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration.WithLabelValues(originReconcile))
	defer timer.ObserveDuration()

	mailboxes, err := s.RefreshSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(mailboxes) == 0 {
		return nil
	}
	start, end := s.Window()

	events, err := s.remote.GetAll(ctx, mailboxes, start, end)
	if err != nil {
		return fmt.Errorf("failed to list remote events: %w", err)
	}

	byMailbox := make(map[string][]remote.Event, len(mailboxes))
	for _, mb := range mailboxes {
		byMailbox[strings.ToLower(mb)] = nil
	}
	for _, ev := range events {
		key := strings.ToLower(ev.Mailbox)
		if _, ok := byMailbox[key]; !ok {
			s.log.WithField("mailbox", ev.Mailbox).Warn("Remote event for unsynchronized mailbox")
			continue
		}
		byMailbox[key] = append(byMailbox[key], ev)
	}

	return s.forEachMailbox(ctx, mailboxes, func(ctx context.Context, mailbox string) error {
		return s.reconcileMailbox(ctx, mailbox, byMailbox[strings.ToLower(mailbox)], start, end)
	})
}

func (s *SyncService) reconcileMailbox(ctx context.Context, mailbox string, remoteEvents []remote.Event, start, end time.Time) error {
	unlock := s.locks.Lock(mailbox)
	defer unlock()

	states, err := s.repo.EventsWithLatest(ctx, mailbox)
	if err != nil {
		return err
	}
	local := make(map[string]repository.EventState, len(states))
	for _, st := range states {
		local[st.Event.LogicalID] = st
	}

	remoteIDs := make(map[string]struct{}, len(remoteEvents))
	deleted := 0
	for _, ev := range remoteEvents {
		remoteIDs[ev.LogicalID] = struct{}{}
		st, known := local[ev.LogicalID]
		if known && !orphanedRemotely(st) {
			continue
		}
		remoteID := ev.RemoteID
		err := s.appendEntry(ctx, repository.Append{
			Mailbox:   mailbox,
			LogicalID: ev.LogicalID,
			Operation: model.OperationDelete,
			Start:     ev.Start,
			End:       ev.End,
			RemoteID:  &remoteID,
		}, originReconcile)
		if err != nil {
			return err
		}
		s.metrics.SweepDeletes.WithLabelValues(originReconcile).Inc()
		deleted++
	}

	created := 0
	for _, st := range states {
		if _, ok := remoteIDs[st.Event.LogicalID]; ok {
			continue
		}
		if !missingRemotely(st, start, end) {
			continue
		}
		err := s.appendEntry(ctx, repository.Append{
			Mailbox:   mailbox,
			LogicalID: st.Event.LogicalID,
			Operation: model.OperationCreate,
			Start:     st.Latest.Start,
			End:       st.Latest.End,
		}, originReconcile)
		if err != nil {
			return err
		}
		created++
	}

	s.log.WithFields(logrus.Fields{
		"mailbox": mailbox,
		"remote":  len(remoteEvents),
		"local":   len(states),
		"deleted": deleted,
		"created": created,
	}).Info("Remote reconciliation completed")
	return nil
}

// orphanedRemotely reports whether a remote appointment should be removed
// although the ledger knows its identity: the event is deleted and its DELETE
// already went out.
func orphanedRemotely(st repository.EventState) bool {
	return st.Event.IsDeleted &&
		st.Latest != nil &&
		st.Latest.Operation == model.OperationDelete &&
		!st.Latest.IsPending()
}

func missingRemotely(st repository.EventState, start, end time.Time) bool {
	if st.Event.IsDeleted || st.Latest == nil {
		return false
	}
	if st.Latest.IsPending() || st.Latest.Operation == model.OperationDelete {
		return false
	}
	return IntervalOverlapsWindow(st.Latest.Start, st.Latest.End, start, end)
}
