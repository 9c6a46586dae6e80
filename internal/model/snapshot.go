package model

import "time"

// InstanceLayout formats the original start of a recurring occurrence when it
// is appended to the series ICalUID.
const InstanceLayout = "20060102T150405Z"

// Snapshot is an appointment as observed at the calendar source. It is never
// persisted. Compare it against the current ledger entry and discard it.
type Snapshot struct {
	ItemID      string
	ICalUID     string
	Mailbox     string
	Subject     string
	Start       time.Time
	End         time.Time
	IsCancelled bool
	IsDeleted   bool
	IsFree      bool
	IsRecurring bool

	// InstanceStart is the original start of a recurring occurrence. Nil for
	// single appointments.
	InstanceStart *time.Time
}

// LogicalID returns the identity used to key the ledger.
func (s Snapshot) LogicalID() string {
	if s.InstanceStart == nil {
		return s.ICalUID
	}
	return s.ICalUID + "_" + s.InstanceStart.UTC().Format(InstanceLayout)
}

// Inactive reports whether the snapshot no longer represents busy time.
func (s Snapshot) Inactive() bool {
	return s.IsFree || s.IsCancelled || s.IsDeleted
}

// ZeroDuration reports whether start and end coincide.
func (s Snapshot) ZeroDuration() bool {
	return s.Start.Equal(s.End)
}
