package model

import (
	"time"

	"gorm.io/gorm"
)

// Mailbox represents a synchronized mailbox in the database
type Mailbox struct {
	ID             uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Address        string         `json:"address" gorm:"type:varchar(255);not null;uniqueIndex"`
	SubscriptionID string         `json:"subscription_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Group          string         `json:"group" gorm:"column:subscription_group;type:varchar(255);not null;default:''"`
	Enabled        bool           `json:"enabled" gorm:"default:true"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}
