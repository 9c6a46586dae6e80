package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"calendar-ledger-sync/internal/model"
)

// CreateNotification queues a change signal.
func (r *Repository) CreateNotification(ctx context.Context, n *model.Notification) error {
	return retryOp(ctx, r.retry, func() error {
		if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
			return fmt.Errorf("failed to queue notification: %w", err)
		}
		return nil
	})
}

// ListNotifications returns every queued notification in observed order.
func (r *Repository) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var out []model.Notification
	if err := r.db.WithContext(ctx).Order("observed_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// ArchiveNotification removes a processed notification and stores its audit
// record in one transaction.
func (r *Repository) ArchiveNotification(ctx context.Context, n model.Notification, log *model.NotificationLog) error {
	return retryOp(ctx, r.retry, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&model.Notification{}, n.ID).Error; err != nil {
				return fmt.Errorf("failed to delete notification: %w", err)
			}
			if err := tx.Create(log).Error; err != nil {
				return fmt.Errorf("failed to archive notification: %w", err)
			}
			return nil
		})
	})
}

// ListNotificationLogs returns archived notifications, newest first, with the
// total count. An empty mailbox matches all.
func (r *Repository) ListNotificationLogs(ctx context.Context, mailbox string, limit, offset int) ([]model.NotificationLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.NotificationLog{})
	if mailbox != "" {
		q = q.Where("mailbox = ?", mailbox)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count notification logs: %w", err)
	}

	var logs []model.NotificationLog
	if err := q.Order("processed_at DESC, id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return logs, total, nil
}

// GetNotificationLog returns one archived notification.
func (r *Repository) GetNotificationLog(ctx context.Context, id uint) (*model.NotificationLog, error) {
	var log model.NotificationLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		return nil, notFound(err, "failed to get notification log")
	}
	return &log, nil
}
