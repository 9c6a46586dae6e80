// Package decision decides whether an observed appointment needs to be
// synchronized and which operation the ledger should record.
package decision

import (
	"time"

	"calendar-ledger-sync/internal/model"
)

// Engine compares snapshots against the current ledger entry.
//
// All "today" comparisons use one boundary: local midnight at the start of
// tomorrow in Location. A start is "after today" when it is at or past that
// boundary and an end is "still in the future" under the same test.
type Engine struct {
	Now      func() time.Time
	Location *time.Location
}

// NewEngine returns an Engine reading the wall clock in loc.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{Now: time.Now, Location: loc}
}

// Tomorrow returns the boundary used for the "today" comparisons.
func (e *Engine) Tomorrow() time.Time {
	now := e.now().In(e.loc())
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, e.loc())
}

// Today returns local midnight at the start of the current day.
func (e *Engine) Today() time.Time {
	return e.Tomorrow().AddDate(0, 0, -1)
}

// Decide reports whether snapshot s qualifies for synchronization given the
// latest ledger entry for its logical identity (nil when never seen), and
// the operation to record.
func (e *Engine) Decide(s model.Snapshot, latest *model.SyncLogEntry) (bool, model.Operation) {
	// A zero-length interval never carries busy time, whatever the history.
	if s.ZeroDuration() {
		return false, ""
	}

	tomorrow := e.Tomorrow()

	if latest == nil && s.Start.Before(tomorrow) {
		return false, ""
	}

	if s.Inactive() {
		if latest != nil && latest.Operation != model.OperationDelete {
			return true, model.OperationDelete
		}
		return false, ""
	}

	changed := latest == nil ||
		!latest.SameInterval(s.Start, s.End) ||
		latest.Operation == model.OperationDelete
	if !changed {
		return false, ""
	}

	if latest == nil || latest.Operation == model.OperationDelete {
		return true, model.OperationCreate
	}

	if s.Start.Before(tomorrow) {
		if !s.End.Before(tomorrow) {
			return true, model.OperationUpdate
		}
		return true, model.OperationDelete
	}
	return true, model.OperationUpdate
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) loc() *time.Location {
	if e.Location == nil {
		return time.Local
	}
	return e.Location
}
