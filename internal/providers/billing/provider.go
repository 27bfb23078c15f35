// Package billing is the outbound interface to the recurring-billing
// provider: session creation, metered items, usage reporting, and webhook
// decoding into the synchronizer's event model.
package billing

import (
	"context"
	"errors"
	"time"

	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
)

var ErrNotConfigured = errors.New("billing_provider_not_configured")

// CheckoutParams creates one hosted checkout session.
type CheckoutParams struct {
	CustomerRef    string
	PriceRef       string
	Mode           string // "subscription" or "payment"
	SuccessURL     string
	CancelURL      string
	OrganizationID string
	ProductType    string // "subscription" or "topup"
}

// CheckoutSession is the created session the caller redirects to.
type CheckoutSession struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// Provider is the outbound billing surface. Implementations must be safe
// for concurrent use.
type Provider interface {
	// EnsureCustomer returns the provider customer ref for the tenant,
	// creating one if ref is empty.
	EnsureCustomer(ctx context.Context, ref, orgID, name, email string) (string, error)

	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)

	// CreateMeteredItem attaches the overage price to an existing
	// subscription and returns the new item ref.
	CreateMeteredItem(ctx context.Context, subscriptionRef, priceRef string) (string, error)

	// ReportOverage emits one meter event for the customer.
	ReportOverage(ctx context.Context, customerRef string, value int64, at time.Time) error

	// DecodeWebhook verifies the delivery signature and maps the payload
	// onto the synchronizer's event model. Unknown event types decode with
	// their type set and no payload.
	DecodeWebhook(payload []byte, signature string) (*billingsyncdomain.Event, error)
}
