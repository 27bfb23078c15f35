package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WebhookEventLog records every delivery the synchronizer saw, keyed by the
// provider's event id. Replayed deliveries short-circuit on this table.
type WebhookEventLog struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ProviderEvent  string       `gorm:"type:text;not null;uniqueIndex"`
	EventType      string       `gorm:"type:text;not null"`
	SubscriptionID *snowflake.ID
	Outcome        string    `gorm:"type:text;not null"`
	Detail         string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WebhookEventLog) TableName() string { return "webhook_event_log" }

// Log outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Repository persists the webhook event log.
type Repository interface {
	// InsertEventLog records the delivery. A duplicate-key failure means
	// the event was already processed.
	InsertEventLog(ctx context.Context, db *gorm.DB, entry *WebhookEventLog) error
	EventSeen(ctx context.Context, db *gorm.DB, providerEvent string) (bool, error)
}

// Synchronizer reconciles local billing state with provider events.
type Synchronizer interface {
	// HandleEvent applies one decoded event. Failures are returned to the
	// caller for the HTTP layer to decide the response code; every outcome
	// is recorded in the event log.
	HandleEvent(ctx context.Context, event *Event) error
}
