package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	stripe "github.com/stripe/stripe-go/v82"
	meterevent "github.com/stripe/stripe-go/v82/billing/meterevent"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscriptionitem"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	webhookSecret  string
	meterEventName string
	log            *zap.Logger
}

func NewStripeProvider(apiKey, webhookSecret, meterEventName string, log *zap.Logger) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{
		webhookSecret:  webhookSecret,
		meterEventName: meterEventName,
		log:            log.Named("providers.stripe"),
	}
}

func (p *StripeProvider) EnsureCustomer(ctx context.Context, ref, orgID, name, email string) (string, error) {
	if ref != "" {
		return ref, nil
	}
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("organization_id", orgID)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(req.CustomerRef),
		Mode:       stripe.String(req.Mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceRef), Quantity: stripe.Int64(1)},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("organization_id", req.OrganizationID)
	params.AddMetadata("product_type", req.ProductType)

	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{Ref: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return session.URL, nil
}

func (p *StripeProvider) CreateMeteredItem(ctx context.Context, subscriptionRef, priceRef string) (string, error) {
	params := &stripe.SubscriptionItemParams{
		Subscription:      stripe.String(subscriptionRef),
		Price:             stripe.String(priceRef),
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx

	item, err := subscriptionitem.New(params)
	if err != nil {
		return "", fmt.Errorf("create metered item: %w", err)
	}
	return item.ID, nil
}

func (p *StripeProvider) ReportOverage(ctx context.Context, customerRef string, value int64, at time.Time) error {
	params := &stripe.BillingMeterEventParams{
		EventName: stripe.String(p.meterEventName),
		Payload: map[string]string{
			"stripe_customer_id": customerRef,
			"value":              strconv.FormatInt(value, 10),
		},
		Timestamp: stripe.Int64(at.Unix()),
	}
	params.Context = ctx

	if _, err := meterevent.New(params); err != nil {
		return fmt.Errorf("report meter event: %w", err)
	}
	return nil
}

// DecodeWebhook verifies the signature and maps the delivery onto the local
// event model. Decode failures on a verified payload are returned so the
// provider retries the delivery.
func (p *StripeProvider) DecodeWebhook(payload []byte, signature string) (*billingsyncdomain.Event, error) {
	raw, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	event := &billingsyncdomain.Event{
		ID:   raw.ID,
		Type: billingsyncdomain.EventType(raw.Type),
	}
	if !event.Type.Known() {
		return event, nil
	}

	switch event.Type {
	case billingsyncdomain.EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		event.Checkout = p.mapCheckout(&session)

	case billingsyncdomain.EventSubscriptionCreated,
		billingsyncdomain.EventSubscriptionUpdated,
		billingsyncdomain.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		event.Subscription = mapSubscription(&sub)

	case billingsyncdomain.EventInvoiceFinalized,
		billingsyncdomain.EventInvoicePaid,
		billingsyncdomain.EventInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(raw.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		event.Invoice = mapInvoice(&invoice)

	case billingsyncdomain.EventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		event.Charge = mapCharge(&charge)
	}
	return event, nil
}

// mapCheckout also fetches the session's line items, which Stripe omits
// from webhook payloads. A fetch failure leaves PriceRefs empty rather
// than failing the whole delivery.
func (p *StripeProvider) mapCheckout(session *stripe.CheckoutSession) *billingsyncdomain.CheckoutSession {
	out := &billingsyncdomain.CheckoutSession{
		Ref:              session.ID,
		Mode:             string(session.Mode),
		OrganizationID:   session.Metadata["organization_id"],
		ProductType:      session.Metadata["product_type"],
		AmountTotalCents: session.AmountTotal,
	}
	if session.Customer != nil {
		out.CustomerRef = session.Customer.ID
	}
	if session.Subscription != nil {
		out.SubscriptionRef = session.Subscription.ID
	}
	if session.PaymentIntent != nil {
		out.PaymentRef = session.PaymentIntent.ID
	}

	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	fetched, err := checkoutsession.Get(session.ID, params)
	if err != nil {
		p.log.Error("fetch checkout line items", zap.String("session", session.ID), zap.Error(err))
		return out
	}
	if fetched.LineItems != nil {
		for _, item := range fetched.LineItems.Data {
			if item.Price != nil {
				out.PriceRefs = append(out.PriceRefs, item.Price.ID)
			}
		}
	}
	return out
}

func mapSubscription(sub *stripe.Subscription) *billingsyncdomain.ProviderSubscription {
	out := &billingsyncdomain.ProviderSubscription{
		Ref:               sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Items == nil {
		return out
	}
	for _, item := range sub.Items.Data {
		mapped := billingsyncdomain.ProviderSubscriptionItem{Ref: item.ID}
		if item.Price != nil {
			mapped.PriceRef = item.Price.ID
			mapped.UnitAmountCents = item.Price.UnitAmount
			if item.Price.Recurring != nil {
				mapped.Metered = item.Price.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered
			}
		}
		out.Items = append(out.Items, mapped)

		// Stripe reports billing-period bounds on items, not the
		// subscription root.
		if out.PeriodStart == nil && item.CurrentPeriodStart > 0 {
			out.PeriodStart = unixTime(item.CurrentPeriodStart)
			out.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	return out
}

func mapInvoice(invoice *stripe.Invoice) *billingsyncdomain.ProviderInvoice {
	out := &billingsyncdomain.ProviderInvoice{
		Ref:          invoice.ID,
		AttemptCount: invoice.AttemptCount,
	}
	if invoice.Customer != nil {
		out.CustomerRef = invoice.Customer.ID
	}
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil && invoice.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionRef = invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	if invoice.PeriodStart > 0 {
		out.PeriodStart = unixTime(invoice.PeriodStart)
	}
	if invoice.PeriodEnd > 0 {
		out.PeriodEnd = unixTime(invoice.PeriodEnd)
	}
	return out
}

func mapCharge(charge *stripe.Charge) *billingsyncdomain.ProviderCharge {
	out := &billingsyncdomain.ProviderCharge{
		Ref:                 charge.ID,
		AmountCents:         charge.Amount,
		AmountRefundedCents: charge.AmountRefunded,
	}
	if charge.PaymentIntent != nil {
		out.PaymentRef = charge.PaymentIntent.ID
	}
	return out
}

func unixTime(ts int64) *time.Time {
	t := time.Unix(ts, 0).UTC()
	return &t
}
