package handler

import (
	"time"

	"calendar-ledger-sync/internal/model"
)

// MailboxRequest represents the request structure for creating/updating mailboxes
type MailboxRequest struct {
	Address string `json:"address" binding:"required,email"`
	Group   string `json:"group"`
	Enabled *bool  `json:"enabled"`
}

// MailboxResponse represents the response structure for mailboxes
type MailboxResponse struct {
	ID             uint      `json:"id"`
	Address        string    `json:"address"`
	SubscriptionID string    `json:"subscription_id"`
	Group          string    `json:"group"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func mailboxResponse(m *model.Mailbox) MailboxResponse {
	return MailboxResponse{
		ID:             m.ID,
		Address:        m.Address,
		SubscriptionID: m.SubscriptionID,
		Group:          m.Group,
		Enabled:        m.Enabled,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// NotificationRequest is a pushed change signal. Either SubscriptionID or
// Mailbox names the owner; either ItemID or ICalUID names the appointment.
type NotificationRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Mailbox        string `json:"mailbox"`
	ItemID         string `json:"item_id"`
	ICalUID        string `json:"ical_uid"`
}

// NotificationLogResponse represents the response structure for archived notifications
type NotificationLogResponse struct {
	ID          uint      `json:"id"`
	Mailbox     string    `json:"mailbox"`
	ItemID      string    `json:"item_id,omitempty"`
	ICalUID     string    `json:"ical_uid,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	ProcessedAt time.Time `json:"processed_at"`
	Outcome     string    `json:"outcome"`
	Entries     int       `json:"entries"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
}

func notificationLogResponse(l *model.NotificationLog) NotificationLogResponse {
	return NotificationLogResponse{
		ID:          l.ID,
		Mailbox:     l.Mailbox,
		ItemID:      l.ItemID,
		ICalUID:     l.ICalUID,
		ObservedAt:  l.ObservedAt,
		ProcessedAt: l.ProcessedAt,
		Outcome:     l.Outcome,
		Entries:     l.Entries,
		ErrorMsg:    l.ErrorMsg,
	}
}

// EventResponse represents a ledger head
type EventResponse struct {
	ID        uint      `json:"id"`
	Mailbox   string    `json:"mailbox"`
	LogicalID string    `json:"logical_id"`
	IsDeleted bool      `json:"is_deleted"`
	RemoteID  *string   `json:"remote_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func eventResponse(e *model.CalendarEvent) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Mailbox:   e.MailAddress,
		LogicalID: e.LogicalID,
		IsDeleted: e.IsDeleted,
		RemoteID:  e.RemoteID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// EntryResponse represents one ledger entry
type EntryResponse struct {
	ID            uint            `json:"id"`
	Operation     model.Operation `json:"operation"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	CreatedAt     time.Time       `json:"created_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
	RemoteStatus  *string         `json:"remote_status,omitempty"`
	RemoteMessage string          `json:"remote_message,omitempty"`
}

func entryResponse(e *model.SyncLogEntry) EntryResponse {
	return EntryResponse{
		ID:            e.ID,
		Operation:     e.Operation,
		Start:         e.Start,
		End:           e.End,
		CreatedAt:     e.CreatedAt,
		SyncedAt:      e.SyncedAt,
		RemoteStatus:  e.RemoteStatus,
		RemoteMessage: e.RemoteMessage,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
