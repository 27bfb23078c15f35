package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usageperioddomain "github.com/smallbiznis/kredit/internal/usageperiod/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usageperioddomain.Repository {
	return &repo{}
}

func lockClause(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, period *usageperioddomain.UsagePeriod) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM usage_periods
		 WHERE subscription_id = ? AND period_start = ? AND period_end = ?`,
		period.SubscriptionID,
		period.PeriodStart,
		period.PeriodEnd,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	err = db.WithContext(ctx).Exec(
		`INSERT INTO usage_periods (
			id, org_id, subscription_id, period_start, period_end,
			overage_used, overage_reported, closed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID,
		period.OrgID,
		period.SubscriptionID,
		period.PeriodStart,
		period.PeriodEnd,
		period.OverageUsed,
		period.OverageReported,
		period.Closed,
		period.CreatedAt,
		period.UpdatedAt,
	).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) FindOpenBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*usageperioddomain.UsagePeriod, error) {
	return r.findOpen(ctx, db, subscriptionID, "")
}

func (r *repo) FindOpenBySubscriptionIDForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*usageperioddomain.UsagePeriod, error) {
	return r.findOpen(ctx, db, subscriptionID, lockClause(db))
}

func (r *repo) findOpen(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, suffix string) (*usageperioddomain.UsagePeriod, error) {
	var period usageperioddomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, period_start, period_end,
		 overage_used, overage_reported, closed, created_at, updated_at
		 FROM usage_periods
		 WHERE subscription_id = ? AND closed = ?
		 ORDER BY created_at DESC
		 LIMIT 1`+suffix,
		subscriptionID,
		false,
	).Scan(&period).Error
	if err != nil {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_periods SET closed = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		true,
		id,
	).Error
}

func (r *repo) AddOverage(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET overage_used = overage_used + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		delta,
		id,
	).Error
}

func (r *repo) AdvanceReported(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE usage_periods
		 SET overage_reported = overage_reported + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND overage_reported + ? <= overage_used`,
		delta,
		id,
		delta,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return usageperioddomain.ErrReportOverrun
	}
	return nil
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB) ([]usageperioddomain.UsagePeriod, error) {
	var periods []usageperioddomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, period_start, period_end,
		 overage_used, overage_reported, closed, created_at, updated_at
		 FROM usage_periods WHERE closed = ? ORDER BY created_at ASC`,
		false,
	).Scan(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repo) ListBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]usageperioddomain.UsagePeriod, error) {
	var periods []usageperioddomain.UsagePeriod
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, period_start, period_end,
		 overage_used, overage_reported, closed, created_at, updated_at
		 FROM usage_periods WHERE subscription_id = ? ORDER BY period_start ASC`,
		subscriptionID,
	).Scan(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}
