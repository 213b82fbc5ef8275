// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the QueueItem
// model: the durable FIFO of undelivered send payloads.
//
// Ordering: the queue is drained oldest-first to preserve the order in which
// the user issued the sends. List queries therefore order by
// (enqueued_at ASC, id ASC); the id tiebreak keeps the order deterministic
// when two items share a timestamp.
//
// Error semantics:
//   - DequeueItem is idempotent: removing a missing id is a no-op, not an
//     error, so a crash between delivery and dequeue can be retried safely.
//   - All other DB errors are propagated raw; masking a storage failure here
//     would risk silent message loss.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// EnqueueItem durably appends a new queue item with RetryCount 0 and the
// given retry budget. EnqueuedAt is set to UTC now.
func EnqueueItem(ctx context.Context, db *gorm.DB, userID, conversationID, messageID, content string, attachments []domain.Attachment, maxRetries int) (*domain.QueueItem, error) {
	it := &domain.QueueItem{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      messageID,
		Content:        content,
		Attachments:    attachments,
		EnqueuedAt:     time.Now().UTC(),
		RetryCount:     0,
		MaxRetries:     maxRetries,
	}
	if err := db.WithContext(ctx).Create(it).Error; err != nil {
		return nil, err
	}
	return it, nil
}

// DequeueItem durably removes the item with the given id. Removing an id
// that is not present is a no-op, so the drain path can retry the call
// after a crash without special-casing.
func DequeueItem(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.QueueItem{}).Error
}

// ListQueueItems returns a snapshot of the whole queue in enqueue order
// (oldest first).
func ListQueueItems(ctx context.Context, db *gorm.DB) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	err := db.WithContext(ctx).
		Order("enqueued_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountQueueItems returns the current queue depth.
func CountQueueItems(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Count(&total).Error
	return total, err
}

// UpdateRetryCount persists a new retry count for the item. Returns
// ErrNotFound when the item no longer exists (e.g., dequeued concurrently).
func UpdateRetryCount(ctx context.Context, db *gorm.DB, id string, count int) error {
	res := db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("id = ?", id).
		Update("retry_count", count)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
