package model

import "time"

// Operation is the kind of change a SyncLogEntry asks the remote side to apply.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Remote status values recorded on dispatched entries. Any other value is an
// error code returned by the remote scheduling service.
const (
	RemoteStatusSuccess        = "success"
	RemoteStatusSuperseded     = "superseded"
	RemoteStatusTransportError = "transport_error"
	RemoteStatusAlreadyExists  = "ALREADY_EXISTS"
	RemoteStatusNotFound       = "NOT_FOUND"
)

// SyncLogEntry is one immutable ledger record. Entries with a nil SyncedAt
// are pending dispatch.
type SyncLogEntry struct {
	ID              uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	CalendarEventID uint       `json:"calendar_event_id" gorm:"not null;index"`
	Operation       Operation  `json:"operation" gorm:"type:varchar(16);not null"`
	Start           time.Time  `json:"start" gorm:"not null"`
	End             time.Time  `json:"end" gorm:"not null"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null;index"`
	SyncedAt        *time.Time `json:"synced_at,omitempty" gorm:"index"`
	RemoteStatus    *string    `json:"remote_status,omitempty" gorm:"type:varchar(64)"`
	RemoteMessage   string     `json:"remote_message,omitempty" gorm:"type:text"`
}

// TableName specifies the table name for SyncLogEntry
func (SyncLogEntry) TableName() string {
	return "sync_log_entries"
}

// IsPending reports whether the entry has not been dispatched yet.
func (e *SyncLogEntry) IsPending() bool {
	return e.SyncedAt == nil
}

// Succeeded reports whether the entry was dispatched and accepted, or was
// superseded by a later entry before dispatch.
func (e *SyncLogEntry) Succeeded() bool {
	if e.SyncedAt == nil || e.RemoteStatus == nil {
		return false
	}
	return *e.RemoteStatus == RemoteStatusSuccess || *e.RemoteStatus == RemoteStatusSuperseded
}

// Failed reports whether the entry was dispatched and rejected.
func (e *SyncLogEntry) Failed() bool {
	return e.SyncedAt != nil && !e.Succeeded()
}

// SameInterval reports whether start and end match the entry exactly.
func (e *SyncLogEntry) SameInterval(start, end time.Time) bool {
	return e.Start.Equal(start) && e.End.Equal(end)
}

// PendingEntry couples a pending SyncLogEntry with the event it belongs to.
type PendingEntry struct {
	Entry SyncLogEntry
	Event CalendarEvent
}
