package billing

import (
	"context"
	"time"

	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
)

// NoOpProvider is used when no provider credentials are configured. Every
// outbound call fails with ErrNotConfigured; webhook decoding rejects all
// deliveries.
type NoOpProvider struct{}

func (NoOpProvider) EnsureCustomer(ctx context.Context, ref, orgID, name, email string) (string, error) {
	return "", ErrNotConfigured
}

func (NoOpProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	return nil, ErrNotConfigured
}

func (NoOpProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "", ErrNotConfigured
}

func (NoOpProvider) CreateMeteredItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	return "", ErrNotConfigured
}

func (NoOpProvider) ReportOverage(ctx context.Context, customerRef string, value int64, at time.Time) error {
	return ErrNotConfigured
}

func (NoOpProvider) DecodeWebhook(payload []byte, signature string) (*billingsyncdomain.Event, error) {
	return nil, ErrNotConfigured
}
