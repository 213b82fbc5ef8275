package domain

import "time"

// Idempotency represents a recorded outcome of a previously processed send,
// keyed by (user_id, key). It enables safe client retries of the send
// endpoint: a replayed key returns the originally produced result without
// re-invoking the response provider or re-enqueueing the payload.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:1"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:2"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	ConversationID string    `gorm:"type:TEXT"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
