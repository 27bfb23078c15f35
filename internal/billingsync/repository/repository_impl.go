package repository

import (
	"context"

	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() billingsyncdomain.Repository {
	return &repo{}
}

func (r *repo) InsertEventLog(ctx context.Context, db *gorm.DB, entry *billingsyncdomain.WebhookEventLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_event_log (
			id, provider_event, event_type, subscription_id, outcome, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ProviderEvent,
		entry.EventType,
		entry.SubscriptionID,
		entry.Outcome,
		entry.Detail,
		entry.CreatedAt,
	).Error
}

func (r *repo) EventSeen(ctx context.Context, db *gorm.DB, providerEvent string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM webhook_event_log WHERE provider_event = ? AND outcome IN (?, ?)`,
		providerEvent,
		billingsyncdomain.OutcomeProcessed,
		billingsyncdomain.OutcomeSkipped,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
