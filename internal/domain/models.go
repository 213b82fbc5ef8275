// Package domain defines the persistence models for the message delivery
// pipeline: conversations, the messages exchanged within them, and the
// durable offline queue of undelivered sends. These types are mapped with
// GORM and form the core data layer of the service.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message roles. User messages enter the pipeline through a send; assistant
// messages are produced by the response provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment describes a single file attached to a message. The content
// itself is not stored here; Ref points at wherever the upload layer put it.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
	Ref  string `json:"ref"`
}

// Conversation represents one chat session owned by a user. Conversations
// are append-only from the pipeline's point of view: the delivery path only
// ever adds completed exchanges and refreshes UpdatedAt.
//
// Fields:
//   - ID: stable UUID primary key, assigned when the first message of a new
//     session is delivered.
//   - UserID: identifier of the owner; indexed for retrieval.
//   - Title: human-readable title, auto-generated from the first prompt.
//   - Model: name of the response provider model that served this session.
//   - CreatedAt / UpdatedAt: timestamps; UpdatedAt is refreshed on every
//     successful exchange.
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_convs"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New conversation'"`
	Model     string         `json:"model"      gorm:"type:varchar(128)"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message represents a single utterance within a conversation, authored
// either by the user or by the response provider. A message must carry text
// or at least one attachment; a message with neither is invalid and never
// enters the pipeline.
//
// CreatedAt is assigned once at construction and never mutated.
type Message struct {
	ID             string       `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string       `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	Role           string       `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string       `json:"content"         gorm:"type:text;not null"`
	Attachments    []Attachment `json:"attachments,omitempty" gorm:"serializer:json"`
	CreatedAt      time.Time    `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`

	// Conversation is the parent session. Messages are cascade-deleted
	// when their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Empty reports whether the message carries neither text nor attachments.
func (m Message) Empty() bool { return m.Content == "" && len(m.Attachments) == 0 }

// QueueItem is one undelivered send payload parked in the durable offline
// queue. Items are appended when a send is attempted while the network is
// unreachable, and removed either on confirmed delivery or once RetryCount
// reaches MaxRetries.
//
// The item id is independent of the originating Message id: the user-visible
// Message was already created (and surfaced as failed) at enqueue time.
// MessageID is kept so the status cache can be rebuilt after a restart.
//
// Invariant: RetryCount <= MaxRetries at all times.
type QueueItem struct {
	ID             string       `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string       `json:"conversation_id" gorm:"type:char(36)"`
	UserID         string       `json:"user_id"         gorm:"type:varchar(64);not null"`
	MessageID      string       `json:"message_id"      gorm:"type:char(36);not null"`
	Content        string       `json:"content"         gorm:"type:text;not null"`
	Attachments    []Attachment `json:"attachments,omitempty" gorm:"serializer:json"`
	EnqueuedAt     time.Time    `json:"enqueued_at"     gorm:"index:idx_queue_fifo,priority:1"`
	RetryCount     int          `json:"retry_count"     gorm:"not null;default:0"`
	MaxRetries     int          `json:"max_retries"     gorm:"not null"`
}

// TableName returns the database table name for QueueItem.
func (QueueItem) TableName() string { return "queue_items" }

// Exhausted reports whether the item has used up its retry budget.
func (q QueueItem) Exhausted() bool { return q.RetryCount >= q.MaxRetries }
