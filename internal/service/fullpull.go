package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/repository"
	"calendar-ledger-sync/internal/source"
)

const originFullPull = "full_pull"

// PerformFullPull reconciles every enabled mailbox against a complete fetch
// of the active window. Active events without a live counterpart whose last
// interval overlaps the window are deleted.
func (s *SyncService) PerformFullPull(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration.WithLabelValues(originFullPull))
	defer timer.ObserveDuration()

	mailboxes, err := s.RefreshSubscriptions(ctx)
	if err != nil {
		return err
	}
	start, end := s.Window()
	s.log.WithFields(logrus.Fields{
		"mailboxes":    len(mailboxes),
		"window_start": start,
		"window_end":   end,
	}).Info("Starting full pull")

	return s.forEachMailbox(ctx, mailboxes, func(ctx context.Context, mailbox string) error {
		return s.fullPullMailbox(ctx, mailbox, start, end)
	})
}

func (s *SyncService) fullPullMailbox(ctx context.Context, mailbox string, start, end time.Time) error {
	items, err := s.source.GetByMailbox(ctx, mailbox, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch appointments: %w", err)
	}

	snaps, failedSeries := s.expandAll(ctx, mailbox, items, start, end)

	unlock := s.locks.Lock(mailbox)
	defer unlock()

	appended := 0
	live := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		live[snap.LogicalID()] = struct{}{}
		ok, err := s.reconcileSnapshot(ctx, snap, originFullPull)
		if err != nil {
			return err
		}
		if ok {
			appended++
		}
	}

	states, err := s.repo.EventsWithLatest(ctx, mailbox)
	if err != nil {
		return err
	}
	deleted, err := s.deleteMissing(ctx, mailbox, states, originFullPull, func(st repository.EventState) bool {
		if _, ok := live[st.Event.LogicalID]; ok {
			return false
		}
		if _, ok := failedSeries[st.Event.LogicalID]; ok || belongsToSeries(st.Event.LogicalID, failedSeries) {
			return false
		}
		return IntervalOverlapsWindow(st.Latest.Start, st.Latest.End, start, end)
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"mailbox":   mailbox,
		"snapshots": len(snaps),
		"appended":  appended,
		"deleted":   deleted,
	}).Info("Full pull completed")
	return nil
}

// expandAll unfolds every item with at most FetchWorkers in flight. Series
// that fail to unfold are returned by ICalUID so their occurrences are not
// mistaken for vanished ones.
func (s *SyncService) expandAll(ctx context.Context, mailbox string, items []source.Item, start, end time.Time) ([]model.Snapshot, map[string]struct{}) {
	type expanded struct {
		uid   string
		snaps []model.Snapshot
		err   error
	}
	p := pool.NewWithResults[expanded]().WithMaxGoroutines(s.opts.FetchWorkers)
	for _, item := range items {
		item := item
		p.Go(func() expanded {
			snaps, err := s.expand(ctx, item, start, end)
			return expanded{uid: item.ICalUID(), snaps: snaps, err: err}
		})
	}

	var snaps []model.Snapshot
	failed := make(map[string]struct{})
	for _, r := range p.Wait() {
		if r.err != nil {
			s.log.WithError(r.err).WithFields(logrus.Fields{
				"mailbox":  mailbox,
				"ical_uid": r.uid,
			}).Warn("Failed to expand appointment")
			failed[r.uid] = struct{}{}
			continue
		}
		snaps = append(snaps, r.snaps...)
	}
	for i := range snaps {
		snaps[i].Mailbox = mailbox
	}
	sortSnapshots(snaps)
	return snaps, failed
}
