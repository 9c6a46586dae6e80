package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"calendar-ledger-sync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: record not found")

// Repository persists the ledger, the notification queue and mailboxes.
type Repository struct {
	db    *gorm.DB
	retry retryConfig

	// Now stamps new ledger entries.
	Now func() time.Time
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db, retry: defaultRetryConfig, Now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Append describes one ledger write.
type Append struct {
	Mailbox   string
	LogicalID string
	Operation model.Operation
	Start     time.Time
	End       time.Time
	// RemoteID is recorded on the event when set.
	RemoteID *string
}

// EventState is a calendar event together with its current entry. Latest is
// nil when the event has no history.
type EventState struct {
	Event  model.CalendarEvent
	Latest *model.SyncLogEntry
}

// AppendEntry finds or creates the event for (mailbox, logical id) and
// appends a pending entry in one transaction. The event is soft-deleted when
// the operation is a DELETE and revived otherwise.
func (r *Repository) AppendEntry(ctx context.Context, a Append) (*model.SyncLogEntry, error) {
	if !a.Operation.Valid() {
		return nil, fmt.Errorf("invalid operation %q", a.Operation)
	}

	var entry model.SyncLogEntry
	err := retryOp(ctx, r.retry, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			event := model.CalendarEvent{MailAddress: a.Mailbox, LogicalID: a.LogicalID}
			if err := tx.Where(&model.CalendarEvent{MailAddress: a.Mailbox, LogicalID: a.LogicalID}).
				FirstOrCreate(&event).Error; err != nil {
				return fmt.Errorf("failed to find or create event: %w", err)
			}

			entry = model.SyncLogEntry{
				CalendarEventID: event.ID,
				Operation:       a.Operation,
				Start:           a.Start,
				End:             a.End,
				CreatedAt:       r.Now(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("failed to append entry: %w", err)
			}

			updates := map[string]interface{}{"is_deleted": a.Operation == model.OperationDelete}
			if a.RemoteID != nil {
				updates["remote_id"] = *a.RemoteID
			}
			if err := tx.Model(&event).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update event: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindEvent returns the event for (mailbox, logical id).
func (r *Repository) FindEvent(ctx context.Context, mailbox, logicalID string) (*model.CalendarEvent, error) {
	var event model.CalendarEvent
	err := r.db.WithContext(ctx).
		Where("mail_address = ? AND logical_id = ?", mailbox, logicalID).
		First(&event).Error
	if err != nil {
		return nil, notFound(err, "failed to find event")
	}
	return &event, nil
}

// GetEvent returns an event by id.
func (r *Repository) GetEvent(ctx context.Context, id uint) (*model.CalendarEvent, error) {
	var event model.CalendarEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, notFound(err, "failed to get event")
	}
	return &event, nil
}

// LatestEntry returns the current entry of an event, or nil when it has none.
func (r *Repository) LatestEntry(ctx context.Context, eventID uint) (*model.SyncLogEntry, error) {
	var entry model.SyncLogEntry
	err := r.db.WithContext(ctx).
		Where("calendar_event_id = ?", eventID).
		Order("id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest entry: %w", err)
	}
	return &entry, nil
}

// LatestForIdentity returns the current entry for (mailbox, logical id), or
// nil when the event is unknown or has no history.
func (r *Repository) LatestForIdentity(ctx context.Context, mailbox, logicalID string) (*model.SyncLogEntry, error) {
	event, err := r.FindEvent(ctx, mailbox, logicalID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.LatestEntry(ctx, event.ID)
}

// EntriesForEvent returns the full history of an event, oldest first.
func (r *Repository) EntriesForEvent(ctx context.Context, eventID uint) ([]model.SyncLogEntry, error) {
	var entries []model.SyncLogEntry
	err := r.db.WithContext(ctx).
		Where("calendar_event_id = ?", eventID).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	return entries, nil
}

// ListEvents returns the events of a mailbox. Soft-deleted events are
// included only when includeDeleted is set.
func (r *Repository) ListEvents(ctx context.Context, mailbox string, includeDeleted bool) ([]model.CalendarEvent, error) {
	q := r.db.WithContext(ctx).Where("mail_address = ?", mailbox)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var events []model.CalendarEvent
	if err := q.Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// EventsWithLatest returns every event of a mailbox, soft-deleted ones
// included, paired with its current entry.
func (r *Repository) EventsWithLatest(ctx context.Context, mailbox string) ([]EventState, error) {
	db := r.db.WithContext(ctx)

	var events []model.CalendarEvent
	if err := db.Where("mail_address = ?", mailbox).Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var latest []model.SyncLogEntry
	if err := db.Where("id IN (?)", r.latestIDs(db, mailbox)).Find(&latest).Error; err != nil {
		return nil, fmt.Errorf("failed to get latest entries: %w", err)
	}
	byEvent := make(map[uint]*model.SyncLogEntry, len(latest))
	for i := range latest {
		byEvent[latest[i].CalendarEventID] = &latest[i]
	}

	states := make([]EventState, 0, len(events))
	for _, event := range events {
		states = append(states, EventState{Event: event, Latest: byEvent[event.ID]})
	}
	return states, nil
}

// PendingEntries returns the undispatched entries of a mailbox in
// chronological order.
func (r *Repository) PendingEntries(ctx context.Context, mailbox string) ([]model.PendingEntry, error) {
	var entries []model.SyncLogEntry
	err := r.db.WithContext(ctx).
		Select("sync_log_entries.*").
		Joins("JOIN calendar_events ON calendar_events.id = sync_log_entries.calendar_event_id").
		Where("calendar_events.mail_address = ? AND sync_log_entries.synced_at IS NULL", mailbox).
		Order("sync_log_entries.created_at, sync_log_entries.id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending entries: %w", err)
	}
	return r.withEvents(ctx, entries)
}

// FailedCurrentEntries returns the current entries of a mailbox that were
// dispatched and rejected.
func (r *Repository) FailedCurrentEntries(ctx context.Context, mailbox string) ([]model.PendingEntry, error) {
	db := r.db.WithContext(ctx)
	var entries []model.SyncLogEntry
	err := db.
		Where("id IN (?)", r.latestIDs(db, mailbox)).
		Where("synced_at IS NOT NULL").
		Where("(remote_status IS NULL OR remote_status NOT IN ?)",
			[]string{model.RemoteStatusSuccess, model.RemoteStatusSuperseded}).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get failed entries: %w", err)
	}
	return r.withEvents(ctx, entries)
}

// TrailingFailures counts the consecutive rejected entries at the head of an
// event's history.
func (r *Repository) TrailingFailures(ctx context.Context, eventID uint) (int, error) {
	var entries []model.SyncLogEntry
	err := r.db.WithContext(ctx).
		Where("calendar_event_id = ?", eventID).
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	n := 0
	for i := range entries {
		if !entries[i].Failed() {
			break
		}
		n++
	}
	return n, nil
}

// MarkSynced records the dispatch outcome on still pending entries.
func (r *Repository) MarkSynced(ctx context.Context, ids []uint, status, message string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return retryOp(ctx, r.retry, func() error {
		err := r.db.WithContext(ctx).
			Model(&model.SyncLogEntry{}).
			Where("id IN ? AND synced_at IS NULL", ids).
			Updates(map[string]interface{}{
				"synced_at":      at,
				"remote_status":  status,
				"remote_message": message,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mark entries synced: %w", err)
		}
		return nil
	})
}

// SetRemoteID records the id the remote scheduling service assigned.
func (r *Repository) SetRemoteID(ctx context.Context, eventID uint, remoteID string) error {
	return retryOp(ctx, r.retry, func() error {
		err := r.db.WithContext(ctx).
			Model(&model.CalendarEvent{}).
			Where("id = ?", eventID).
			Update("remote_id", remoteID).Error
		if err != nil {
			return fmt.Errorf("failed to set remote id: %w", err)
		}
		return nil
	})
}

func (r *Repository) latestIDs(db *gorm.DB, mailbox string) *gorm.DB {
	return db.Model(&model.SyncLogEntry{}).
		Select("MAX(sync_log_entries.id)").
		Joins("JOIN calendar_events ON calendar_events.id = sync_log_entries.calendar_event_id").
		Where("calendar_events.mail_address = ?", mailbox).
		Group("sync_log_entries.calendar_event_id")
}

func (r *Repository) withEvents(ctx context.Context, entries []model.SyncLogEntry) ([]model.PendingEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(entries))
	seen := make(map[uint]bool)
	for _, e := range entries {
		if !seen[e.CalendarEventID] {
			seen[e.CalendarEventID] = true
			ids = append(ids, e.CalendarEventID)
		}
	}

	var events []model.CalendarEvent
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	byID := make(map[uint]model.CalendarEvent, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	out := make([]model.PendingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.PendingEntry{Entry: e, Event: byID[e.CalendarEventID]})
	}
	return out, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
