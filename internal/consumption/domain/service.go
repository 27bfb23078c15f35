// Package domain defines the credit consumption contract: the typed
// failure taxonomy and the all-or-nothing consume operation.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrInvalidAmount rejects non-positive credit amounts.
	ErrInvalidAmount = errors.New("invalid_amount")

	// ErrAccessPaused is a hard gate: a paused subscription blocks
	// consumption even when wallet credits are available.
	ErrAccessPaused = errors.New("access_paused")

	// ErrNoActivePeriod means an active subscription has no open usage
	// period. That is a synchronizer invariant violation, an operational
	// alarm rather than a user-facing billing error.
	ErrNoActivePeriod = errors.New("no_active_period")

	// ErrNoCreditsAvailable means the grants cannot cover the request and
	// overage is unavailable.
	ErrNoCreditsAvailable = errors.New("no_credits_available")

	// ErrOverageCapExceeded means the request would push the period's
	// overage past the configured cap.
	ErrOverageCapExceeded = errors.New("overage_cap_exceeded")

	// ErrInternal marks an invariant breach, e.g. a guarded debit finding
	// less balance than the pre-check promised.
	ErrInternal = errors.New("internal_error")
)

// ConsumeRequest spends credits on behalf of an organization.
type ConsumeRequest struct {
	OrgID    snowflake.ID  `json:"-"`
	Credits  int64         `json:"credits"`
	UserID   *snowflake.ID `json:"user_id,string,omitempty"`
	APIKeyID *snowflake.ID `json:"api_key_id,string,omitempty"`
}

// ConsumeResult reports what one successful consume did.
type ConsumeResult struct {
	CreditsConsumed       int64 `json:"credits_consumed"`
	OverageRecorded       int64 `json:"overage_recorded"`
	GrantsTouched         int   `json:"grants_touched"`
	SubscriptionRemaining int64 `json:"subscription_remaining"`
	WalletRemaining       int64 `json:"wallet_remaining"`
}

// Balance is a point-in-time read of spendable credits.
type Balance struct {
	SubscriptionRemaining int64 `json:"subscription_remaining"`
	WalletRemaining       int64 `json:"wallet_remaining"`
	TotalRemaining        int64 `json:"total_remaining"`
	OverageUsed           int64 `json:"overage_used"`
}

// Service is the consumption engine.
type Service interface {
	// Consume debits credits across subscription grants, then wallet
	// grants, then period overage, atomically. Partial consumption never
	// happens: the request either fully succeeds or leaves no trace.
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)

	// GetBalance sums spendable credits without locking.
	GetBalance(ctx context.Context, orgID snowflake.ID) (*Balance, error)
}
