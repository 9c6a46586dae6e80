package model

import "time"

// CalendarEvent is the ledger head for one (mailbox, logical identity) pair.
// Rows are never physically deleted; IsDeleted marks them inactive.
type CalendarEvent struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MailAddress string    `json:"mail_address" gorm:"type:varchar(255);not null;uniqueIndex:idx_event_identity,priority:1"`
	LogicalID   string    `json:"logical_id" gorm:"type:varchar(512);not null;uniqueIndex:idx_event_identity,priority:2"`
	IsDeleted   bool      `json:"is_deleted" gorm:"not null;default:false;index"`
	RemoteID    *string   `json:"remote_id,omitempty" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Entries []SyncLogEntry `json:"entries,omitempty" gorm:"foreignKey:CalendarEventID"`
}

// TableName specifies the table name for CalendarEvent
func (CalendarEvent) TableName() string {
	return "calendar_events"
}
