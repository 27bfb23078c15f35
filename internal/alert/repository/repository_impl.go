package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

func (r *repo) FindSettingsBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*alertdomain.AlertSettings, error) {
	var settings alertdomain.AlertSettings
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, enabled, thresholds, destinations, locale, created_at, updated_at
		 FROM alert_settings WHERE subscription_id = ?`,
		subscriptionID,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.ID == 0 {
		return nil, nil
	}
	return &settings, nil
}

func (r *repo) InsertSettings(ctx context.Context, db *gorm.DB, settings *alertdomain.AlertSettings) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alert_settings (
			id, org_id, subscription_id, enabled, thresholds, destinations, locale, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		settings.ID,
		settings.OrgID,
		settings.SubscriptionID,
		settings.Enabled,
		settings.Thresholds,
		settings.Destinations,
		settings.Locale,
		settings.CreatedAt,
		settings.UpdatedAt,
	).Error
}

func (r *repo) UpdateSettings(ctx context.Context, db *gorm.DB, settings *alertdomain.AlertSettings) error {
	return db.WithContext(ctx).Exec(
		`UPDATE alert_settings
		 SET enabled = ?, thresholds = ?, destinations = ?, locale = ?, updated_at = ?
		 WHERE id = ?`,
		settings.Enabled,
		settings.Thresholds,
		settings.Destinations,
		settings.Locale,
		settings.UpdatedAt,
		settings.ID,
	).Error
}

func (r *repo) InsertAlert(ctx context.Context, db *gorm.DB, alert *alertdomain.Alert) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO alerts (
			id, org_id, subscription_id, category, threshold_fraction, message,
			severity, dedup_key, triggered_at, acknowledged_at, resolved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.OrgID,
		alert.SubscriptionID,
		alert.Category,
		alert.ThresholdFraction,
		alert.Message,
		alert.Severity,
		alert.DedupKey,
		alert.TriggeredAt,
		alert.AcknowledgedAt,
		alert.ResolvedAt,
		alert.CreatedAt,
	).Error
}

func (r *repo) DedupKeyExists(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, dedupKey string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM alerts WHERE subscription_id = ? AND dedup_key = ?`,
		subscriptionID,
		dedupKey,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
