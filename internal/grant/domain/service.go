package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidGrantAmount = errors.New("invalid_grant_amount")
	ErrGrantNotFound      = errors.New("grant_not_found")
	ErrTopUpNotFound      = errors.New("topup_not_found")
	ErrGrantOverdrawn     = errors.New("grant_overdrawn")
)

// Repository is the grant store. Methods take the executing handle so the
// consumption engine and the synchronizer control transaction scope.
type Repository interface {
	InsertGrant(ctx context.Context, db *gorm.DB, grant *CreditGrant) error
	InsertTopUp(ctx context.Context, db *gorm.DB, topUp *TopUp) error

	FindTopUpByProviderPaymentRef(ctx context.Context, db *gorm.DB, ref string) (*TopUp, error)
	FindGrantsByTopUpIDForUpdate(ctx context.Context, db *gorm.DB, topUpID snowflake.ID) ([]CreditGrant, error)

	// SubscriptionGrants returns spendable SUBSCRIPTION grants in expiry
	// order. The ForUpdate variant row-locks them for the transaction
	// duration.
	SubscriptionGrants(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) ([]CreditGrant, error)
	SubscriptionGrantsForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, now time.Time) ([]CreditGrant, error)

	// WalletGrants returns spendable TOPUP/TRIAL/PROMOTIONAL grants in
	// expiry order, earliest expiry first. The ForUpdate variant row-locks
	// them for the transaction duration.
	WalletGrants(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]CreditGrant, error)
	WalletGrantsForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, now time.Time) ([]CreditGrant, error)

	// Debit subtracts amount from the grant's remaining balance. It fails
	// with ErrGrantOverdrawn when the balance would go negative, which
	// indicates a pre-check bug rather than a user error.
	Debit(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) error

	// Clawback reduces the remaining balance by amount, flooring at zero.
	Clawback(ctx context.Context, db *gorm.DB, grantID snowflake.ID, amount int64) error

	// SubscriptionGrantExistsForPeriod reports whether a SUBSCRIPTION
	// grant expiring at periodEnd already exists, the natural key used to
	// make webhook-driven issuance idempotent.
	SubscriptionGrantExistsForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodEnd time.Time) (bool, error)

	// ExpiredRemainders sums remaining credits on grants whose expiry
	// passed since the given cutoff, for the expiry sweep.
	ExpiredRemainders(ctx context.Context, db *gorm.DB, since, until time.Time) (int64, error)
}

// TrialIssuer creates the signup trial top-up and grant for a new tenant.
type TrialIssuer interface {
	IssueTrial(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error
}

// ListGrantsRequest filters the read-only grant history.
type ListGrantsRequest struct {
	OrgID     snowflake.ID
	GrantType string
	PageToken string
	PageSize  int
}

// ListGrantsResponse is a cursor page of grants.
type ListGrantsResponse struct {
	Grants        []*CreditGrant `json:"grants"`
	NextPageToken string         `json:"next_page_token"`
	HasMore       bool           `json:"has_more"`
}

// Service issues grants and serves grant history.
type Service interface {
	TrialIssuer

	// IssueSubscriptionGrant creates the period's SUBSCRIPTION grant if
	// none exists for the period yet. Returns true when a row was created.
	IssueSubscriptionGrant(ctx context.Context, tx *gorm.DB, orgID, subscriptionID snowflake.ID, amount int64, periodEnd time.Time) (bool, error)

	// IssueTopUp creates a TopUp and its paired grant.
	IssueTopUp(ctx context.Context, tx *gorm.DB, req IssueTopUpRequest) (*TopUp, error)

	// RefundTopUp claws back the refunded fraction of the top-up's grant
	// credits, floored at zero.
	RefundTopUp(ctx context.Context, tx *gorm.DB, providerPaymentRef string, amountRefundedCents, amountTotalCents int64) error

	List(ctx context.Context, req ListGrantsRequest) (ListGrantsResponse, error)
}

// IssueTopUpRequest creates one purchased credit package.
type IssueTopUpRequest struct {
	OrgID              snowflake.ID
	PackageCode        string
	Credits            int64
	PriceCents         int64
	Currency           string
	ProviderPaymentRef string
	ExpiresAt          *time.Time
	Trial              bool
}
