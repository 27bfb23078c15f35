// Package domain contains the alert configuration and alert record models.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	CategoryThreshold = "threshold"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AlertSettings is the per-subscription alert configuration. One row per
// subscription, created lazily on first read.
type AlertSettings struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	OrgID          snowflake.ID   `gorm:"not null;index"`
	SubscriptionID snowflake.ID   `gorm:"not null;uniqueIndex"`
	Enabled        bool           `gorm:"not null;default:false"`
	Thresholds     datatypes.JSON `gorm:"not null"`
	Destinations   datatypes.JSON `gorm:"not null"`
	Locale         string         `gorm:"type:text;not null;default:en"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AlertSettings) TableName() string { return "alert_settings" }

// ThresholdList decodes the configured threshold fractions.
func (s *AlertSettings) ThresholdList() ([]float64, error) {
	if len(s.Thresholds) == 0 {
		return nil, nil
	}
	var out []float64
	if err := json.Unmarshal(s.Thresholds, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DestinationList decodes the configured notification addresses.
func (s *AlertSettings) DestinationList() ([]string, error) {
	if len(s.Destinations) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(s.Destinations, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Alert is an immutable record that a threshold fired. Deduplication is
// enforced by a check-then-insert on DedupKey inside the transaction that
// performs the triggering consumption.
type Alert struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index"`
	SubscriptionID    snowflake.ID `gorm:"not null;index"`
	Category          string       `gorm:"type:text;not null"`
	ThresholdFraction float64      `gorm:"not null"`
	Message           string       `gorm:"type:text;not null"`
	Severity          string       `gorm:"type:text;not null"`
	DedupKey          string       `gorm:"type:text;not null;index"`
	TriggeredAt       time.Time    `gorm:"not null"`
	AcknowledgedAt    *time.Time
	ResolvedAt        *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Alert) TableName() string { return "alerts" }
