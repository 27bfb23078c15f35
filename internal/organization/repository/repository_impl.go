package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() organizationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, organization *organizationdomain.Organization) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organizations (
			id, name, plan_tier, billing_customer_id, billing_email, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		organization.ID,
		organization.Name,
		organization.PlanTier,
		organization.BillingCustomerID,
		organization.BillingEmail,
		organization.CreatedAt,
		organization.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*organizationdomain.Organization, error) {
	var organization organizationdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, plan_tier, billing_customer_id, billing_email, created_at, updated_at
		 FROM organizations WHERE id = ?`,
		id,
	).Scan(&organization).Error
	if err != nil {
		return nil, err
	}
	if organization.ID == 0 {
		return nil, nil
	}
	return &organization, nil
}

func (r *repo) FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerRef string) (*organizationdomain.Organization, error) {
	var organization organizationdomain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, plan_tier, billing_customer_id, billing_email, created_at, updated_at
		 FROM organizations WHERE billing_customer_id = ?`,
		customerRef,
	).Scan(&organization).Error
	if err != nil {
		return nil, err
	}
	if organization.ID == 0 {
		return nil, nil
	}
	return &organization, nil
}

func (r *repo) UpdatePlanTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier organizationdomain.PlanTier) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations SET plan_tier = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		tier,
		id,
	).Error
}

func (r *repo) SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerRef string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations SET billing_customer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerRef,
		id,
	).Error
}
