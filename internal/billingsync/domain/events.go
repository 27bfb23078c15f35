// Package domain defines the billing event model consumed by the
// synchronizer: a closed set of event types with typed payloads, decoded
// from the provider's webhook delivery.
package domain

import "time"

// EventType is the closed set of provider events the synchronizer handles.
// Anything else is acknowledged and dropped.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventSubscriptionCreated  EventType = "customer.subscription.created"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
	EventInvoiceFinalized     EventType = "invoice.finalized"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventChargeRefunded       EventType = "charge.refunded"
)

// Known reports whether t is handled by the synchronizer.
func (t EventType) Known() bool {
	switch t {
	case EventCheckoutCompleted,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoiceFinalized,
		EventInvoicePaid,
		EventInvoicePaymentFailed,
		EventChargeRefunded:
		return true
	}
	return false
}

// Event is one decoded webhook delivery. Exactly one payload field is set,
// matching Type.
type Event struct {
	ID   string
	Type EventType

	Checkout     *CheckoutSession
	Subscription *ProviderSubscription
	Invoice      *ProviderInvoice
	Charge       *ProviderCharge
}

// CheckoutSession is the completed-checkout payload. OrganizationID and
// ProductType come from session metadata set at session creation.
type CheckoutSession struct {
	Ref              string
	Mode             string
	CustomerRef      string
	SubscriptionRef  string
	PaymentRef       string
	OrganizationID   string
	ProductType      string
	PriceRefs        []string
	AmountTotalCents int64
}

// ProviderSubscription mirrors the provider's subscription object. Period
// bounds may be nil when the provider has not populated them yet; the
// synchronizer backfills from a later event.
type ProviderSubscription struct {
	Ref               string
	CustomerRef       string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	Items             []ProviderSubscriptionItem
}

// BasePriceRef returns the non-metered item's price ref, empty if absent.
func (s *ProviderSubscription) BasePriceRef() string {
	for _, item := range s.Items {
		if !item.Metered {
			return item.PriceRef
		}
	}
	return ""
}

// ProviderSubscriptionItem is one line of the provider subscription.
// Metered items bill usage; the non-metered item carries the base plan.
type ProviderSubscriptionItem struct {
	Ref             string
	PriceRef        string
	Metered         bool
	UnitAmountCents int64
}

// ProviderInvoice carries the fields the synchronizer needs from invoice
// lifecycle events.
type ProviderInvoice struct {
	Ref             string
	CustomerRef     string
	SubscriptionRef string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	AttemptCount    int64
}

// ProviderCharge is the refund payload.
type ProviderCharge struct {
	Ref                 string
	PaymentRef          string
	AmountCents         int64
	AmountRefundedCents int64
}
