package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
)

// Repository persists subscriptions. Methods take the executing handle so
// the synchronizer can batch all writes of one webhook event into one
// transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)
	FindByProviderRefForUpdate(ctx context.Context, db *gorm.DB, ref string) (*Subscription, error)

	// FindActiveByOrgID returns the organization's ACTIVE subscription,
	// or nil when none exists.
	FindActiveByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	FindActiveByOrgIDForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)

	ListByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Subscription, error)
}

// UpdateOverageSettingsRequest configures pay-as-you-go overage for one
// subscription. A nil Cap with overage enabled means unlimited.
type UpdateOverageSettingsRequest struct {
	OrgID          snowflake.ID `json:"-"`
	SubscriptionID snowflake.ID `json:"subscription_id,string"`
	Enabled        bool         `json:"enabled"`
	Cap            *int64       `json:"cap,omitempty"`
}

// Service is the tenant-facing subscription surface.
type Service interface {
	Get(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Subscription, error)
	UpdateOverageSettings(ctx context.Context, req UpdateOverageSettingsRequest) (*Subscription, error)
}
