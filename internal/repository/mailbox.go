package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"calendar-ledger-sync/internal/model"
)

// CreateMailbox stores a mailbox, assigning a subscription id when missing.
func (r *Repository) CreateMailbox(ctx context.Context, m *model.Mailbox) error {
	if m.SubscriptionID == "" {
		m.SubscriptionID = uuid.NewString()
	}
	return retryOp(ctx, r.retry, func() error {
		if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
			return fmt.Errorf("failed to create mailbox: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetMailbox(ctx context.Context, id uint) (*model.Mailbox, error) {
	var m model.Mailbox
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "failed to get mailbox")
	}
	return &m, nil
}

func (r *Repository) GetMailboxByAddress(ctx context.Context, address string) (*model.Mailbox, error) {
	var m model.Mailbox
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&m).Error; err != nil {
		return nil, notFound(err, "failed to get mailbox")
	}
	return &m, nil
}

func (r *Repository) GetMailboxBySubscription(ctx context.Context, subscriptionID string) (*model.Mailbox, error) {
	var m model.Mailbox
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&m).Error; err != nil {
		return nil, notFound(err, "failed to get mailbox")
	}
	return &m, nil
}

func (r *Repository) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var out []model.Mailbox
	if err := r.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return out, nil
}

func (r *Repository) ListEnabledMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var out []model.Mailbox
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled mailboxes: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdateMailbox(ctx context.Context, m *model.Mailbox) error {
	return retryOp(ctx, r.retry, func() error {
		if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
			return fmt.Errorf("failed to update mailbox: %w", err)
		}
		return nil
	})
}

func (r *Repository) SetMailboxEnabled(ctx context.Context, id uint, enabled bool) (*model.Mailbox, error) {
	m, err := r.GetMailbox(ctx, id)
	if err != nil {
		return nil, err
	}
	err = retryOp(ctx, r.retry, func() error {
		if err := r.db.WithContext(ctx).Model(m).Update("enabled", enabled).Error; err != nil {
			return fmt.Errorf("failed to update mailbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) DeleteMailbox(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.Mailbox{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete mailbox: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
