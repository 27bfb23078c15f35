package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidOrganizationID   = errors.New("invalid_organization_id")
	ErrInvalidOrganizationName = errors.New("invalid_organization_name")
	ErrOrganizationNotFound    = errors.New("organization_not_found")
)

// CreateRequest registers a new tenant.
type CreateRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billing_email"`
}

// Repository persists organizations. All methods take the executing
// handle explicitly so callers control transaction scope.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, organization *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerRef string) (*Organization, error)
	UpdatePlanTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier PlanTier) error
	SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerRef string) error
}

// Service manages tenant records.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Organization, error)
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)

	// SetBillingCustomer links the tenant to its provider customer record.
	SetBillingCustomer(ctx context.Context, id snowflake.ID, customerRef string) error
}
