// Package domain contains the usage period model, the overage accounting
// window for one subscription billing cycle.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPeriodNotFound = errors.New("usage_period_not_found")
	ErrReportOverrun  = errors.New("usage_period_report_overrun")
)

// UsagePeriod accumulates overage for one billing cycle. Exactly one open
// period exists per active subscription; the synchronizer closes and opens
// periods atomically on rollover. Invariant: overage_reported <= overage_used.
type UsagePeriod struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	OrgID           snowflake.ID `gorm:"not null;index"`
	SubscriptionID  snowflake.ID `gorm:"not null;index"`
	PeriodStart     time.Time    `gorm:"not null"`
	PeriodEnd       time.Time    `gorm:"not null"`
	OverageUsed     int64        `gorm:"not null;default:0"`
	OverageReported int64        `gorm:"not null;default:0"`
	Closed          bool         `gorm:"not null;default:false"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// Repository persists usage periods.
type Repository interface {
	// InsertIfAbsent creates the period unless one with the same natural
	// key (subscription + period bounds) exists. Returns true on insert.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, period *UsagePeriod) (bool, error)

	FindOpenBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*UsagePeriod, error)
	FindOpenBySubscriptionIDForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*UsagePeriod, error)

	Close(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// AddOverage increments overage_used.
	AddOverage(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error

	// AdvanceReported increments overage_reported, guarded so it can
	// never exceed overage_used.
	AdvanceReported(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error

	ListOpen(ctx context.Context, db *gorm.DB) ([]UsagePeriod, error)
	ListBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]UsagePeriod, error)
}
