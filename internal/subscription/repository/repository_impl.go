package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, provider_subscription_ref, provider_customer_ref,
	 provider_item_base_ref, provider_item_overage_ref, plan_code, status,
	 monthly_allowance, overage_unit_price_cents, overage_enabled, overage_cap,
	 cancel_at_period_end, pause_access, current_period_start, current_period_end,
	 price_paid_cents, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func lockClause(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, org_id, provider_subscription_ref, provider_customer_ref,
			provider_item_base_ref, provider_item_overage_ref, plan_code, status,
			monthly_allowance, overage_unit_price_cents, overage_enabled, overage_cap,
			cancel_at_period_end, pause_access, current_period_start, current_period_end,
			price_paid_cents, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.ProviderSubscriptionRef,
		subscription.ProviderCustomerRef,
		subscription.ProviderItemBaseRef,
		subscription.ProviderItemOverageRef,
		subscription.PlanCode,
		subscription.Status,
		subscription.MonthlyAllowance,
		subscription.OverageUnitPriceCents,
		subscription.OverageEnabled,
		subscription.OverageCap,
		subscription.CancelAtPeriodEnd,
		subscription.PauseAccess,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.PricePaidCents,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			provider_subscription_ref = ?,
			provider_customer_ref = ?,
			provider_item_base_ref = ?,
			provider_item_overage_ref = ?,
			plan_code = ?,
			status = ?,
			monthly_allowance = ?,
			overage_unit_price_cents = ?,
			overage_enabled = ?,
			overage_cap = ?,
			cancel_at_period_end = ?,
			pause_access = ?,
			current_period_start = ?,
			current_period_end = ?,
			price_paid_cents = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		subscription.ProviderSubscriptionRef,
		subscription.ProviderCustomerRef,
		subscription.ProviderItemBaseRef,
		subscription.ProviderItemOverageRef,
		subscription.PlanCode,
		subscription.Status,
		subscription.MonthlyAllowance,
		subscription.OverageUnitPriceCents,
		subscription.OverageEnabled,
		subscription.OverageCap,
		subscription.CancelAtPeriodEnd,
		subscription.PauseAccess,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.PricePaidCents,
		subscription.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `WHERE id = ?`, "", id)
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, ref string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `WHERE provider_subscription_ref = ?`, "", ref)
}

func (r *repo) FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, ref string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `WHERE provider_subscription_ref = ?`, lockClause(db), ref)
}

func (r *repo) FindActiveByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `WHERE org_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`, "", orgID, subscriptiondomain.SubscriptionStatusActive)
}

func (r *repo) FindActiveByOrgIDForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `WHERE org_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`, lockClause(db), orgID, subscriptiondomain.SubscriptionStatusActive)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where, suffix string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions `+where+suffix,
		args...,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) ListByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? ORDER BY created_at ASC`,
		orgID,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}
