package bucket

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-ledger-sync/internal/model"
)

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func pending(id, eventID uint, op model.Operation, minute int) model.PendingEntry {
	return model.PendingEntry{
		Entry: model.SyncLogEntry{
			ID:              id,
			CalendarEventID: eventID,
			Operation:       op,
			Start:           base.Add(24 * time.Hour),
			End:             base.Add(25 * time.Hour),
			CreatedAt:       base.Add(time.Duration(minute) * time.Minute),
		},
		Event: model.CalendarEvent{ID: eventID, MailAddress: "a@example.com", LogicalID: "uid"},
	}
}

func ids(entries []model.PendingEntry) []uint {
	out := make([]uint, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Entry.ID)
	}
	return out
}

func TestBucketCollapsesUpdatesPerEvent(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 100, model.OperationUpdate, 1),
		pending(2, 200, model.OperationUpdate, 2),
		pending(3, 100, model.OperationUpdate, 3),
		pending(4, 200, model.OperationUpdate, 4),
		pending(5, 100, model.OperationUpdate, 5),
	}

	res := Bucket(entries, 10, nil)

	require.Len(t, res.Updates, 2)
	assert.Equal(t, []uint{5, 4}, ids(res.Updates))
	assert.ElementsMatch(t, []uint{1, 2, 3}, ids(res.Superseded))
	assert.Empty(t, res.Creates)
	assert.Empty(t, res.Deletes)
}

func TestBucketSplitsByOperation(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 1, model.OperationCreate, 1),
		pending(2, 2, model.OperationDelete, 2),
		pending(3, 3, model.OperationUpdate, 3),
		pending(4, 4, model.OperationCreate, 4),
	}

	res := Bucket(entries, 10, nil)
	assert.Equal(t, []uint{1, 4}, ids(res.Creates))
	assert.Equal(t, []uint{3}, ids(res.Updates))
	assert.Equal(t, []uint{2}, ids(res.Deletes))
	assert.Equal(t, 4, res.Len())
}

func TestBucketStopsAtFirstOverflow(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 1, model.OperationCreate, 1),
		pending(2, 2, model.OperationCreate, 2),
		pending(3, 3, model.OperationDelete, 3),
		pending(4, 4, model.OperationCreate, 4),
		pending(5, 5, model.OperationDelete, 5),
	}

	res := Bucket(entries, 2, nil)
	assert.Equal(t, []uint{1, 2}, ids(res.Creates))
	assert.Equal(t, []uint{3}, ids(res.Deletes), "entries after the overflow point stay pending")
}

func TestBucketSupersedeDoesNotNeedRoom(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 1, model.OperationUpdate, 1),
		pending(2, 1, model.OperationUpdate, 2),
		pending(3, 2, model.OperationDelete, 3),
	}

	res := Bucket(entries, 1, nil)
	assert.Equal(t, []uint{2}, ids(res.Updates))
	assert.Equal(t, []uint{1}, ids(res.Superseded))
	assert.Equal(t, []uint{3}, ids(res.Deletes))
}

func TestBucketKeepsPerEventOrderAcrossBatches(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 1, model.OperationDelete, 1),
		pending(2, 2, model.OperationCreate, 2),
		pending(3, 1, model.OperationCreate, 3),
		pending(4, 3, model.OperationUpdate, 4),
		pending(5, 3, model.OperationDelete, 5),
		pending(6, 3, model.OperationUpdate, 6),
		pending(7, 1, model.OperationDelete, 7),
	}

	res := Bucket(entries, 10, nil)
	assert.Equal(t, []uint{2}, ids(res.Creates))
	assert.Equal(t, []uint{4}, ids(res.Updates))
	assert.Equal(t, []uint{1, 5}, ids(res.Deletes))
	// Once an event is held back, its later entries wait with it.
	assert.Equal(t, []uint{3, 6, 7}, ids(res.Deferred))
	assert.Empty(t, res.Superseded)
}

func TestBucketAllowsForwardOrderForOneEvent(t *testing.T) {
	entries := []model.PendingEntry{
		pending(1, 1, model.OperationCreate, 1),
		pending(2, 1, model.OperationUpdate, 2),
		pending(3, 1, model.OperationUpdate, 3),
		pending(4, 1, model.OperationDelete, 4),
	}

	res := Bucket(entries, 10, nil)
	assert.Equal(t, []uint{1}, ids(res.Creates))
	assert.Equal(t, []uint{3}, ids(res.Updates))
	assert.Equal(t, []uint{2}, ids(res.Superseded))
	assert.Equal(t, []uint{4}, ids(res.Deletes))
	assert.Empty(t, res.Deferred)
}

func TestBucketDropsUnknownOperations(t *testing.T) {
	logger, hook := test.NewNullLogger()
	entries := []model.PendingEntry{
		pending(1, 1, model.Operation("MOVE"), 1),
		pending(2, 2, model.OperationCreate, 2),
	}

	res := Bucket(entries, 10, logger)
	assert.Equal(t, []uint{2}, ids(res.Creates))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestBucketZeroSize(t *testing.T) {
	res := Bucket([]model.PendingEntry{pending(1, 1, model.OperationCreate, 1)}, 0, nil)
	assert.Equal(t, 0, res.Len())
}
