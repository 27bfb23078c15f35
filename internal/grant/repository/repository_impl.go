package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() grantdomain.Repository {
	return &repo{}
}

// sqlite has no row locks; its single-writer model covers the tests.
func lockClause(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) InsertGrant(ctx context.Context, db *gorm.DB, grant *grantdomain.CreditGrant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_grants (
			id, org_id, subscription_id, topup_id, grant_type, amount, remaining_amount,
			expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.OrgID,
		grant.SubscriptionID,
		grant.TopUpID,
		grant.GrantType,
		grant.Amount,
		grant.RemainingAmount,
		grant.ExpiresAt,
		grant.CreatedAt,
		grant.UpdatedAt,
	).Error
}

func (r *repo) InsertTopUp(ctx context.Context, db *gorm.DB, topUp *grantdomain.TopUp) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO topups (
			id, org_id, package_code, credits, price_cents, currency,
			provider_payment_ref, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		topUp.ID,
		topUp.OrgID,
		topUp.PackageCode,
		topUp.Credits,
		topUp.PriceCents,
		topUp.Currency,
		topUp.ProviderPaymentRef,
		topUp.CreatedAt,
		topUp.UpdatedAt,
	).Error
}

func (r *repo) FindTopUpByProviderPaymentRef(ctx context.Context, db *gorm.DB, ref string) (*grantdomain.TopUp, error) {
	var topUp grantdomain.TopUp
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, package_code, credits, price_cents, currency,
		 provider_payment_ref, created_at, updated_at
		 FROM topups WHERE provider_payment_ref = ?`,
		ref,
	).Scan(&topUp).Error
	if err != nil {
		return nil, err
	}
	if topUp.ID == 0 {
		return nil, nil
	}
	return &topUp, nil
}

func (r *repo) FindGrantsByTopUpIDForUpdate(ctx context.Context, db *gorm.DB, topUpID snowflake.ID) ([]grantdomain.CreditGrant, error) {
	var grants []grantdomain.CreditGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, topup_id, grant_type, amount, remaining_amount,
		 expires_at, created_at, updated_at
		 FROM credit_grants WHERE topup_id = ?`+lockClause(db),
		topUpID,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) SubscriptionGrants(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) ([]grantdomain.CreditGrant, error) {
	return r.subscriptionGrants(ctx, db, subscriptionID, now, "")
}

func (r *repo) SubscriptionGrantsForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) ([]grantdomain.CreditGrant, error) {
	return r.subscriptionGrants(ctx, db, subscriptionID, now, lockClause(db))
}

// Spend order is earliest expiry first. NULL ordering differs between
// sqlite and postgres, so never-expiring grants are pushed last explicitly.
func (r *repo) subscriptionGrants(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time, suffix string) ([]grantdomain.CreditGrant, error) {
	var grants []grantdomain.CreditGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, topup_id, grant_type, amount, remaining_amount,
		 expires_at, created_at, updated_at
		 FROM credit_grants
		 WHERE subscription_id = ?
		   AND grant_type = ?
		   AND remaining_amount > 0
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY (expires_at IS NULL) ASC, expires_at ASC, id ASC`+suffix,
		subscriptionID,
		grantdomain.GrantTypeSubscription,
		now,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) WalletGrants(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]grantdomain.CreditGrant, error) {
	return r.walletGrants(ctx, db, orgID, now, "")
}

func (r *repo) WalletGrantsForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]grantdomain.CreditGrant, error) {
	return r.walletGrants(ctx, db, orgID, now, lockClause(db))
}

func (r *repo) walletGrants(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time, suffix string) ([]grantdomain.CreditGrant, error) {
	var grants []grantdomain.CreditGrant
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, topup_id, grant_type, amount, remaining_amount,
		 expires_at, created_at, updated_at
		 FROM credit_grants
		 WHERE org_id = ?
		   AND grant_type IN ?
		   AND remaining_amount > 0
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY (expires_at IS NULL) ASC, expires_at ASC, id ASC`+suffix,
		orgID,
		[]grantdomain.GrantType{
			grantdomain.GrantTypeTopUp,
			grantdomain.GrantTypeTrial,
			grantdomain.GrantTypePromotional,
		},
		now,
	).Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) Debit(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_grants
		 SET remaining_amount = remaining_amount - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND remaining_amount >= ?`,
		amount,
		grantID,
		amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return grantdomain.ErrGrantOverdrawn
	}
	return nil
}

func (r *repo) Clawback(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_grants
		 SET remaining_amount = CASE WHEN remaining_amount > ? THEN remaining_amount - ? ELSE 0 END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		amount,
		amount,
		grantID,
	).Error
}

func (r *repo) SubscriptionGrantExistsForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodEnd time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM credit_grants
		 WHERE subscription_id = ? AND grant_type = ? AND expires_at = ?`,
		subscriptionID,
		grantdomain.GrantTypeSubscription,
		periodEnd,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ExpiredRemainders(ctx context.Context, db *gorm.DB, since, until time.Time) (int64, error) {
	var total *int64
	err := db.WithContext(ctx).Raw(
		`SELECT SUM(remaining_amount) FROM credit_grants
		 WHERE remaining_amount > 0 AND expires_at > ? AND expires_at <= ?`,
		since,
		until,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
