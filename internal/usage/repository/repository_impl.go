package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, org_id, subscription_id, topup_id, grant_id, grant_type,
			credits_consumed, user_id, api_key_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OrgID,
		record.SubscriptionID,
		record.TopUpID,
		record.GrantID,
		record.GrantType,
		record.CreditsConsumed,
		record.UserID,
		record.APIKeyID,
		record.CreatedAt,
	).Error
}

func (r *repo) SumConsumedByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var total *int64
	err := db.WithContext(ctx).Raw(
		`SELECT SUM(credits_consumed) FROM usage_records WHERE org_id = ?`,
		orgID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
