package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/bucket"
	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/remote"
)

const originDispatch = "dispatch"

type sendFunc func(ctx context.Context, mailbox string, items []remote.Item) ([]remote.ItemResult, error)

// UpdateAllPendingLedgerEntries runs one dispatch cycle for every enabled
// mailbox.
func (s *SyncService) UpdateAllPendingLedgerEntries(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration.WithLabelValues(originDispatch))
	defer timer.ObserveDuration()

	mailboxes, err := s.RefreshSubscriptions(ctx)
	if err != nil {
		return err
	}
	return s.forEachMailbox(ctx, mailboxes, s.UpdatePendingLedgerEntries)
}

// UpdatePendingLedgerEntries requeues rejected entries of mailbox, then sends
// one bucketed batch per operation and folds the per-item results back into
// the ledger.
func (s *SyncService) UpdatePendingLedgerEntries(ctx context.Context, mailbox string) error {
	unlock := s.locks.Lock(mailbox)
	defer unlock()

	requeued, err := s.requeueFailed(ctx, mailbox)
	if err != nil {
		return fmt.Errorf("failed to requeue rejected entries: %w", err)
	}

	pending, err := s.repo.PendingEntries(ctx, mailbox)
	if err != nil {
		return err
	}
	s.metrics.PendingEntries.WithLabelValues(mailbox).Set(float64(len(pending)))
	if len(pending) == 0 {
		return nil
	}

	res := bucket.Bucket(pending, s.opts.BatchSize, s.log.WithField("mailbox", mailbox))

	if err := s.markSuperseded(ctx, res.Superseded); err != nil {
		return err
	}

	batches := []struct {
		op      model.Operation
		entries []model.PendingEntry
		send    sendFunc
	}{
		{model.OperationCreate, res.Creates, s.remote.Create},
		{model.OperationUpdate, res.Updates, s.remote.Update},
		{model.OperationDelete, res.Deletes, s.remote.Delete},
	}

	var firstErr error
	for _, b := range batches {
		if len(b.entries) == 0 {
			continue
		}
		if err := s.dispatch(ctx, mailbox, b.op, b.entries, b.send); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.log.WithFields(logrus.Fields{
		"mailbox":    mailbox,
		"pending":    len(pending),
		"requeued":   requeued,
		"creates":    len(res.Creates),
		"updates":    len(res.Updates),
		"deletes":    len(res.Deletes),
		"superseded": len(res.Superseded),
		"deferred":   len(res.Deferred),
	}).Info("Dispatch cycle completed")
	return firstErr
}

func (s *SyncService) markSuperseded(ctx context.Context, entries []model.PendingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(entries))
	for _, pe := range entries {
		ids = append(ids, pe.Entry.ID)
	}
	if err := s.repo.MarkSynced(ctx, ids, model.RemoteStatusSuperseded, "superseded by a later update", s.now()); err != nil {
		return err
	}
	s.metrics.EntriesSuperseded.Add(float64(len(ids)))
	return nil
}

// dispatch sends one batch. A transport failure marks the whole batch so the
// next cycle resends it; ledger errors are returned.
func (s *SyncService) dispatch(ctx context.Context, mailbox string, op model.Operation, entries []model.PendingEntry, send sendFunc) error {
	items := make([]remote.Item, 0, len(entries))
	ids := make([]uint, 0, len(entries))
	for _, pe := range entries {
		item := remote.Item{
			EntryID:   pe.Entry.ID,
			LogicalID: pe.Event.LogicalID,
			Start:     pe.Entry.Start,
			End:       pe.Entry.End,
		}
		if pe.Event.RemoteID != nil {
			item.RemoteID = *pe.Event.RemoteID
		}
		items = append(items, item)
		ids = append(ids, pe.Entry.ID)
	}

	log := s.log.WithFields(logrus.Fields{
		"mailbox":   mailbox,
		"operation": op,
		"items":     len(items),
	})

	results, err := send(ctx, mailbox, items)
	if err != nil {
		log.WithError(err).Error("Batch dispatch failed")
		s.metrics.BatchFailures.WithLabelValues(string(op)).Inc()
		s.metrics.EntriesDispatched.WithLabelValues(string(op), model.RemoteStatusTransportError).Add(float64(len(ids)))
		if markErr := s.repo.MarkSynced(ctx, ids, model.RemoteStatusTransportError, err.Error(), s.now()); markErr != nil {
			return markErr
		}
		return fmt.Errorf("%s batch: %w", op, err)
	}

	byEntry := make(map[uint]remote.ItemResult, len(results))
	for _, r := range results {
		byEntry[r.EntryID] = r
	}

	for _, pe := range entries {
		status, msg := foldResult(op, byEntry, pe.Entry.ID)
		if err := s.repo.MarkSynced(ctx, []uint{pe.Entry.ID}, status, msg, s.now()); err != nil {
			return err
		}
		if r, ok := byEntry[pe.Entry.ID]; ok && r.OK() && r.AssignedID != "" {
			if err := s.repo.SetRemoteID(ctx, pe.Event.ID, r.AssignedID); err != nil {
				return err
			}
		}
		s.metrics.EntriesDispatched.WithLabelValues(string(op), status).Inc()
		if status != model.RemoteStatusSuccess {
			log.WithFields(logrus.Fields{
				"logical_id": pe.Event.LogicalID,
				"entry_id":   pe.Entry.ID,
				"status":     status,
			}).Warn("Entry rejected by scheduling service")
		}
	}
	return nil
}

// foldResult turns the item result for entryID into the remote status and
// message to record. A DELETE of something the remote side does not have is
// recorded as a success.
func foldResult(op model.Operation, results map[uint]remote.ItemResult, entryID uint) (string, string) {
	r, ok := results[entryID]
	switch {
	case !ok:
		return model.RemoteStatusTransportError, "no result returned for entry"
	case r.OK():
		return model.RemoteStatusSuccess, r.Message
	case op == model.OperationDelete && r.ErrorCode == model.RemoteStatusNotFound:
		return model.RemoteStatusSuccess, "already absent remotely"
	case r.ErrorCode == "":
		return remote.StatusError, r.Message
	}
	return r.ErrorCode, r.Message
}
