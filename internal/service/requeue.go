package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/repository"
)

const originRequeue = "requeue"

// RequeueOperation maps a rejected entry to the operation to send next. The
// second result is false when the rejection needs no further dispatch.
func RequeueOperation(op model.Operation, status string) (model.Operation, bool) {
	switch {
	case op == model.OperationCreate && status == model.RemoteStatusAlreadyExists:
		return model.OperationUpdate, true
	case op == model.OperationUpdate && status == model.RemoteStatusNotFound:
		return model.OperationCreate, true
	case op == model.OperationDelete && status == model.RemoteStatusNotFound:
		return "", false
	}
	return op, true
}

// requeueFailed appends a fresh pending entry for every rejected current
// entry of mailbox, unless the event has already failed MaxResends times in
// a row. The caller holds the mailbox lock.
func (s *SyncService) requeueFailed(ctx context.Context, mailbox string) (int, error) {
	failed, err := s.repo.FailedCurrentEntries(ctx, mailbox)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, pe := range failed {
		status := model.RemoteStatusTransportError
		if pe.Entry.RemoteStatus != nil {
			status = *pe.Entry.RemoteStatus
		}
		log := s.log.WithFields(logrus.Fields{
			"mailbox":    mailbox,
			"logical_id": pe.Event.LogicalID,
			"operation":  pe.Entry.Operation,
			"status":     status,
		})

		op, resend := RequeueOperation(pe.Entry.Operation, status)
		if !resend {
			continue
		}

		if s.opts.MaxResends > 0 {
			failures, err := s.repo.TrailingFailures(ctx, pe.Event.ID)
			if err != nil {
				return requeued, err
			}
			if failures >= s.opts.MaxResends {
				log.WithField("failures", failures).Warn("Giving up on rejected entry")
				continue
			}
		}

		err := s.appendEntry(ctx, repository.Append{
			Mailbox:   mailbox,
			LogicalID: pe.Event.LogicalID,
			Operation: op,
			Start:     pe.Entry.Start,
			End:       pe.Entry.End,
		}, originRequeue)
		if err != nil {
			return requeued, err
		}
		s.metrics.EntriesRequeued.WithLabelValues(string(op)).Inc()
		requeued++
	}
	return requeued, nil
}
