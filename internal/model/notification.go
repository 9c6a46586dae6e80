package model

import "time"

// Notification is a queued change signal for one appointment. It is deleted
// once its effect is folded into the ledger and archived as a NotificationLog.
type Notification struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Mailbox    string    `json:"mailbox" gorm:"type:varchar(255);not null;index"`
	ItemID     string    `json:"item_id" gorm:"type:varchar(512)"`
	ICalUID    string    `json:"ical_uid" gorm:"type:varchar(512)"`
	ObservedAt time.Time `json:"observed_at" gorm:"not null;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}

// Outcomes recorded on archived notifications.
const (
	OutcomeAppended = "appended"
	OutcomeNoChange = "no_change"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// NotificationLog is the audit record of a processed notification
type NotificationLog struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Mailbox     string    `json:"mailbox" gorm:"type:varchar(255);not null;index"`
	ItemID      string    `json:"item_id" gorm:"type:varchar(512)"`
	ICalUID     string    `json:"ical_uid" gorm:"type:varchar(512)"`
	ObservedAt  time.Time `json:"observed_at"`
	ProcessedAt time.Time `json:"processed_at" gorm:"index"`
	Outcome     string    `json:"outcome" gorm:"type:varchar(50);not null"`
	Entries     int       `json:"entries"`
	ErrorMsg    string    `json:"error_msg" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for NotificationLog
func (NotificationLog) TableName() string {
	return "notification_logs"
}
