// Package bucket partitions pending ledger entries into bounded dispatch
// batches per operation.
package bucket

import (
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/model"
)

// Result holds the batches for one dispatch cycle. Superseded lists pending
// UPDATE entries replaced by a later UPDATE for the same event; they are to be
// marked as sent without being dispatched. Deferred lists entries held back
// to a later cycle so that their event's changes reach the remote side in
// ledger order.
type Result struct {
	Creates    []model.PendingEntry
	Updates    []model.PendingEntry
	Deletes    []model.PendingEntry
	Superseded []model.PendingEntry
	Deferred   []model.PendingEntry
}

// Batches are sent in this order.
var dispatchRank = map[model.Operation]int{
	model.OperationCreate: 0,
	model.OperationUpdate: 1,
	model.OperationDelete: 2,
}

// Len returns the number of entries selected for dispatch.
func (r Result) Len() int {
	return len(r.Creates) + len(r.Updates) + len(r.Deletes)
}

// Bucket scans entries in the given (chronological) order. An entry whose
// batch is already at maxSize stops the scan, leaving it and everything after
// it pending for the next cycle. An entry that would be sent before an
// earlier entry of the same event is deferred together with the rest of that
// event's entries. Entries with unknown operations are logged and dropped.
func Bucket(entries []model.PendingEntry, maxSize int, log logrus.FieldLogger) Result {
	var res Result
	if maxSize < 1 {
		return res
	}
	updateSlot := make(map[uint]int)
	lastRank := make(map[uint]int)
	deferred := make(map[uint]bool)

	for _, pe := range entries {
		eventID := pe.Event.ID
		rank, known := dispatchRank[pe.Entry.Operation]
		if deferred[eventID] {
			res.Deferred = append(res.Deferred, pe)
			continue
		}
		if prev, ok := lastRank[eventID]; known && ok && rank < prev {
			deferred[eventID] = true
			res.Deferred = append(res.Deferred, pe)
			continue
		}

		switch pe.Entry.Operation {
		case model.OperationCreate:
			if len(res.Creates) >= maxSize {
				return res
			}
			res.Creates = append(res.Creates, pe)
			lastRank[eventID] = rank
		case model.OperationUpdate:
			if i, ok := updateSlot[eventID]; ok {
				res.Superseded = append(res.Superseded, res.Updates[i])
				res.Updates[i] = pe
				continue
			}
			if len(res.Updates) >= maxSize {
				return res
			}
			updateSlot[eventID] = len(res.Updates)
			res.Updates = append(res.Updates, pe)
			lastRank[eventID] = rank
		case model.OperationDelete:
			if len(res.Deletes) >= maxSize {
				return res
			}
			res.Deletes = append(res.Deletes, pe)
			lastRank[eventID] = rank
		default:
			if log != nil {
				log.WithFields(logrus.Fields{
					"mailbox":    pe.Event.MailAddress,
					"logical_id": pe.Event.LogicalID,
					"entry_id":   pe.Entry.ID,
					"operation":  pe.Entry.Operation,
				}).Error("Dropping ledger entry with unknown operation")
			}
		}
	}
	return res
}
