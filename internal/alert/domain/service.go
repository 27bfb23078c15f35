package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	"gorm.io/gorm"
)

var (
	// ErrSettingsIncomplete rejects enabling alerts without at least one
	// threshold and one destination.
	ErrSettingsIncomplete = errors.New("alert_settings_incomplete")
)

// Repository persists alert settings and fired alerts.
type Repository interface {
	FindSettingsBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*AlertSettings, error)
	InsertSettings(ctx context.Context, db *gorm.DB, settings *AlertSettings) error
	UpdateSettings(ctx context.Context, db *gorm.DB, settings *AlertSettings) error

	InsertAlert(ctx context.Context, db *gorm.DB, alert *Alert) error

	// DedupKeyExists reports whether an alert with the given key was
	// already recorded. Callers run it in the same transaction as the
	// insert so concurrent consumers cannot both fire a threshold.
	DedupKeyExists(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, dedupKey string) (bool, error)
}

// UpsertSettingsRequest replaces a subscription's alert configuration.
type UpsertSettingsRequest struct {
	OrgID          snowflake.ID `json:"-"`
	SubscriptionID snowflake.ID `json:"subscription_id,string"`
	Enabled        bool         `json:"enabled"`
	Thresholds     []float64    `json:"thresholds"`
	Destinations   []string     `json:"destinations"`
	Locale         string       `json:"locale"`
}

// ListAlertsRequest filters fired alerts.
type ListAlertsRequest struct {
	OrgID     snowflake.ID
	PageToken string
	PageSize  int
}

// ListAlertsResponse is a cursor page of alerts.
type ListAlertsResponse struct {
	Alerts        []*Alert `json:"alerts"`
	NextPageToken string   `json:"next_page_token"`
	HasMore       bool     `json:"has_more"`
}

// Engine evaluates consumption against configured thresholds inside the
// consumption transaction.
type Engine interface {
	// Evaluate fires every configured threshold at or below fraction that
	// has not fired before, inserting one Alert row per new threshold in
	// tx. It returns the newly fired alerts so the caller can dispatch
	// notifications after commit.
	Evaluate(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, periodID snowflake.ID, fraction float64) ([]*Alert, error)

	// Dispatch sends notifications for fired alerts. Failures are logged
	// and swallowed; notification is best-effort.
	Dispatch(ctx context.Context, alerts []*Alert)
}

// Service manages alert settings and serves alert history.
type Service interface {
	Engine

	// GetSettings returns the subscription's settings, creating disabled
	// defaults on first access.
	GetSettings(ctx context.Context, orgID, subscriptionID snowflake.ID) (*AlertSettings, error)

	UpsertSettings(ctx context.Context, req UpsertSettingsRequest) (*AlertSettings, error)

	List(ctx context.Context, req ListAlertsRequest) (ListAlertsResponse, error)
}
