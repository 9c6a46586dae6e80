package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"calendar-ledger-sync/internal/model"
)

var fixedNow = time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return &Engine{Now: func() time.Time { return fixedNow }, Location: time.UTC}
}

func entry(op model.Operation, start, end time.Time) *model.SyncLogEntry {
	return &model.SyncLogEntry{Operation: op, Start: start, End: end, CreatedAt: fixedNow.Add(-time.Hour)}
}

func snapshot(start, end time.Time) model.Snapshot {
	return model.Snapshot{ICalUID: "uid-1", Mailbox: "a@example.com", Start: start, End: end}
}

func TestBoundaries(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC), e.Tomorrow())
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), e.Today())
}

func TestDecideNewAppointmentTomorrow(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(24 * time.Hour)

	ok, op := e.Decide(snapshot(start, start.Add(time.Hour)), nil)
	assert.True(t, ok)
	assert.Equal(t, model.OperationCreate, op)
}

func TestDecideNewAppointmentTodayIsIgnored(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(2 * time.Hour)

	ok, _ := e.Decide(snapshot(start, start.Add(time.Hour)), nil)
	assert.False(t, ok)

	past := fixedNow.Add(-72 * time.Hour)
	ok, _ = e.Decide(snapshot(past, past.Add(time.Hour)), nil)
	assert.False(t, ok)
}

func TestDecideStartAtMidnightBoundary(t *testing.T) {
	e := newTestEngine()
	start := e.Tomorrow()

	ok, op := e.Decide(snapshot(start, start.Add(time.Hour)), nil)
	assert.True(t, ok)
	assert.Equal(t, model.OperationCreate, op)

	ok, _ = e.Decide(snapshot(start.Add(-time.Nanosecond), start.Add(time.Hour)), nil)
	assert.False(t, ok)
}

func TestDecideExtendedEndIsUpdate(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(24 * time.Hour)
	end := start.Add(time.Hour)

	ok, op := e.Decide(snapshot(start, end.Add(15*time.Minute)), entry(model.OperationCreate, start, end))
	assert.True(t, ok)
	assert.Equal(t, model.OperationUpdate, op)
}

func TestDecideUnchangedIsNoop(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(48 * time.Hour)
	end := start.Add(time.Hour)

	ok, _ := e.Decide(snapshot(start, end), entry(model.OperationUpdate, start, end))
	assert.False(t, ok)
}

func TestDecideCancelledThenRepeated(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(24 * time.Hour)
	end := start.Add(time.Hour)
	cancelled := snapshot(start, end)
	cancelled.IsCancelled = true

	ok, op := e.Decide(cancelled, entry(model.OperationCreate, start, end))
	assert.True(t, ok)
	assert.Equal(t, model.OperationDelete, op)

	ok, _ = e.Decide(cancelled, entry(model.OperationDelete, start, end))
	assert.False(t, ok)
}

func TestDecideInactiveWithoutHistory(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(24 * time.Hour)

	for _, mutate := range []func(*model.Snapshot){
		func(s *model.Snapshot) { s.IsFree = true },
		func(s *model.Snapshot) { s.IsCancelled = true },
		func(s *model.Snapshot) { s.IsDeleted = true },
	} {
		s := snapshot(start, start.Add(time.Hour))
		mutate(&s)
		ok, _ := e.Decide(s, nil)
		assert.False(t, ok)
	}
}

func TestDecideFreeTimeDeletesKnownEvent(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(24 * time.Hour)
	s := snapshot(start, start.Add(time.Hour))
	s.IsFree = true

	ok, op := e.Decide(s, entry(model.OperationUpdate, start, start.Add(time.Hour)))
	assert.True(t, ok)
	assert.Equal(t, model.OperationDelete, op)
}

func TestDecideResurrection(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(72 * time.Hour)
	end := start.Add(time.Hour)

	ok, op := e.Decide(snapshot(start, end), entry(model.OperationDelete, start, end))
	assert.True(t, ok)
	assert.Equal(t, model.OperationCreate, op)
}

func TestDecideResurrectionOfPastInterval(t *testing.T) {
	e := newTestEngine()
	start := fixedNow.Add(-24 * time.Hour)
	end := start.Add(time.Hour)

	// A known event passes the gate whatever its date, and a DELETE head
	// always comes back as CREATE.
	ok, op := e.Decide(snapshot(start, end), entry(model.OperationDelete, start, end))
	assert.True(t, ok)
	assert.Equal(t, model.OperationCreate, op)

	ok, _ = e.Decide(snapshot(start, end), entry(model.OperationCreate, start, end))
	assert.False(t, ok)
}

func TestDecideDraggedIntoPast(t *testing.T) {
	e := newTestEngine()
	origStart := fixedNow.Add(48 * time.Hour)
	latest := entry(model.OperationCreate, origStart, origStart.Add(time.Hour))

	// Still running into tomorrow.
	start := fixedNow.Add(-time.Hour)
	ok, op := e.Decide(snapshot(start, e.Tomorrow().Add(time.Hour)), latest)
	assert.True(t, ok)
	assert.Equal(t, model.OperationUpdate, op)

	// Ends exactly at the boundary counts as the future.
	ok, op = e.Decide(snapshot(start, e.Tomorrow()), latest)
	assert.True(t, ok)
	assert.Equal(t, model.OperationUpdate, op)

	// Entirely over.
	ok, op = e.Decide(snapshot(start, fixedNow), latest)
	assert.True(t, ok)
	assert.Equal(t, model.OperationDelete, op)
}

func TestDecideZeroDurationNeverQualifies(t *testing.T) {
	e := newTestEngine()
	instants := []time.Time{fixedNow.Add(-48 * time.Hour), fixedNow, fixedNow.Add(24 * time.Hour), fixedNow.Add(90 * 24 * time.Hour)}
	histories := []*model.SyncLogEntry{
		nil,
		entry(model.OperationCreate, fixedNow.Add(24*time.Hour), fixedNow.Add(25*time.Hour)),
		entry(model.OperationUpdate, fixedNow.Add(24*time.Hour), fixedNow.Add(25*time.Hour)),
		entry(model.OperationDelete, fixedNow.Add(24*time.Hour), fixedNow.Add(25*time.Hour)),
	}

	for _, at := range instants {
		for _, latest := range histories {
			for _, inactive := range []bool{false, true} {
				s := snapshot(at, at)
				s.IsCancelled = inactive
				ok, _ := e.Decide(s, latest)
				assert.False(t, ok, "start=%s latest=%v cancelled=%v", at, latest, inactive)
			}
		}
	}
}

// Feeding the same snapshot repeatedly and recording each decision must never
// produce two consecutive identical ledger entries.
func TestDecideIdempotentUnderRepeatedSnapshots(t *testing.T) {
	e := newTestEngine()
	tomorrow := e.Tomorrow()

	cases := []model.Snapshot{
		snapshot(tomorrow.Add(9*time.Hour), tomorrow.Add(10*time.Hour)),
		snapshot(fixedNow.Add(-3*time.Hour), fixedNow.Add(-2*time.Hour)),
		snapshot(fixedNow.Add(-3*time.Hour), tomorrow.Add(2*time.Hour)),
		func() model.Snapshot {
			s := snapshot(tomorrow.Add(time.Hour), tomorrow.Add(2*time.Hour))
			s.IsCancelled = true
			return s
		}(),
	}
	seeds := []*model.SyncLogEntry{
		nil,
		entry(model.OperationCreate, tomorrow.Add(30*time.Hour), tomorrow.Add(31*time.Hour)),
		entry(model.OperationDelete, tomorrow.Add(30*time.Hour), tomorrow.Add(31*time.Hour)),
	}

	for ci, s := range cases {
		for si, seed := range seeds {
			history := []*model.SyncLogEntry{}
			latest := seed
			for i := 0; i < 5; i++ {
				ok, op := e.Decide(s, latest)
				if !ok {
					continue
				}
				latest = entry(op, s.Start, s.End)
				history = append(history, latest)
			}
			for i := 1; i < len(history); i++ {
				prev, cur := history[i-1], history[i]
				same := prev.Operation == cur.Operation && prev.SameInterval(cur.Start, cur.End)
				assert.False(t, same, "case %d seed %d produced duplicate %s", ci, si, cur.Operation)
			}
			assert.LessOrEqual(t, len(history), 1, "case %d seed %d", ci, si)
		}
	}
}
