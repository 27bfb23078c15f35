package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/config"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/lock"
	"github.com/smallbiznis/kredit/internal/observability/logger"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/kredit/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const eventLockTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Node          *snowflake.Node
	Clock         clock.Clock
	Log           *zap.Logger
	Catalog       config.Catalog
	Repo          billingsyncdomain.Repository
	Organizations organizationdomain.Repository
	Subscriptions subscriptiondomain.Repository
	Periods       usageperioddomain.Repository
	Grants        grantdomain.Service
	Provider      billing.Provider
	Locker        *lock.Locker     `optional:"true"`
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	node          *snowflake.Node
	clock         clock.Clock
	log           *zap.Logger
	catalog       config.Catalog
	repo          billingsyncdomain.Repository
	organizations organizationdomain.Repository
	subscriptions subscriptiondomain.Repository
	periods       usageperioddomain.Repository
	grants        grantdomain.Service
	provider      billing.Provider
	locker        *lock.Locker
	metrics       *metrics.Metrics
}

func NewService(p ServiceParam) billingsyncdomain.Synchronizer {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		clock:         p.Clock,
		log:           p.Log.Named("billingsync.service"),
		catalog:       p.Catalog,
		repo:          p.Repo,
		organizations: p.Organizations,
		subscriptions: p.Subscriptions,
		periods:       p.Periods,
		grants:        p.Grants,
		provider:      p.Provider,
		locker:        p.Locker,
		metrics:       p.Metrics,
	}
}

// HandleEvent applies one decoded provider event. Deliveries are
// deduplicated on the provider event id; processing for one subscription
// is serialized across replicas via the distributed lock.
func (s *Service) HandleEvent(ctx context.Context, event *billingsyncdomain.Event) error {
	log := logger.FromContext(ctx).Named("billingsync.service").With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)

	if !event.Type.Known() {
		log.Debug("ignoring unhandled event type")
		s.metrics.RecordWebhookEvent(string(event.Type), billingsyncdomain.OutcomeSkipped)
		return nil
	}

	seen, err := s.repo.EventSeen(ctx, s.db, event.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Info("duplicate delivery, already processed")
		s.metrics.RecordWebhookEvent(string(event.Type), billingsyncdomain.OutcomeDuplicate)
		return nil
	}

	if key := s.lockKey(event); key != "" {
		token, acquired, err := s.locker.TryLock(ctx, key, eventLockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			return fmt.Errorf("concurrent processing in progress for %s", key)
		}
		defer func() {
			if err := s.locker.Release(ctx, key, token); err != nil {
				log.Warn("release event lock", zap.Error(err))
			}
		}()
	}

	outcome, detail, handleErr := s.dispatch(ctx, event, log)

	s.metrics.RecordWebhookEvent(string(event.Type), outcome)
	s.recordEventLog(ctx, event, outcome, detail)
	return handleErr
}

func (s *Service) dispatch(ctx context.Context, event *billingsyncdomain.Event, log *zap.Logger) (string, string, error) {
	var err error
	switch event.Type {
	case billingsyncdomain.EventCheckoutCompleted:
		err = s.handleCheckoutCompleted(ctx, event.Checkout, log)
	case billingsyncdomain.EventSubscriptionCreated:
		err = s.handleSubscriptionCreated(ctx, event.Subscription, log)
	case billingsyncdomain.EventSubscriptionUpdated:
		err = s.handleSubscriptionUpdated(ctx, event.Subscription, log)
	case billingsyncdomain.EventSubscriptionDeleted:
		err = s.handleSubscriptionDeleted(ctx, event.Subscription, log)
	case billingsyncdomain.EventInvoiceFinalized:
		err = s.handleInvoiceFinalized(ctx, event.Invoice, log)
	case billingsyncdomain.EventInvoicePaid:
		err = s.handleInvoicePaid(ctx, event.Invoice, log)
	case billingsyncdomain.EventInvoicePaymentFailed:
		err = s.handleInvoicePaymentFailed(ctx, event.Invoice, log)
	case billingsyncdomain.EventChargeRefunded:
		err = s.handleChargeRefunded(ctx, event.Charge, log)
	}

	switch {
	case err == nil:
		return billingsyncdomain.OutcomeProcessed, "", nil
	case errorIsSkip(err):
		// The event referenced state we cannot resolve yet; a later event
		// carries the link. Acknowledge so the provider stops retrying.
		log.Info("event skipped", zap.String("reason", err.Error()))
		return billingsyncdomain.OutcomeSkipped, err.Error(), nil
	default:
		log.Error("event processing failed", zap.Error(err))
		return billingsyncdomain.OutcomeFailed, err.Error(), err
	}
}

func (s *Service) lockKey(event *billingsyncdomain.Event) string {
	switch {
	case event.Subscription != nil:
		return "billingsync:sub:" + event.Subscription.Ref
	case event.Invoice != nil && event.Invoice.SubscriptionRef != "":
		return "billingsync:sub:" + event.Invoice.SubscriptionRef
	case event.Checkout != nil:
		return "billingsync:checkout:" + event.Checkout.Ref
	case event.Charge != nil:
		return "billingsync:charge:" + event.Charge.PaymentRef
	}
	return ""
}

func (s *Service) recordEventLog(ctx context.Context, event *billingsyncdomain.Event, outcome, detail string) {
	entry := &billingsyncdomain.WebhookEventLog{
		ID:            s.node.Generate(),
		ProviderEvent: event.ID,
		EventType:     string(event.Type),
		Outcome:       outcome,
		Detail:        detail,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.InsertEventLog(ctx, s.db, entry); err != nil {
		s.log.Warn("record webhook event log", zap.String("event_id", event.ID), zap.Error(err))
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, checkout *billingsyncdomain.CheckoutSession, log *zap.Logger) error {
	org, err := s.resolveCheckoutOrganization(ctx, checkout)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if org.BillingCustomerID == nil && checkout.CustomerRef != "" {
			if err := s.organizations.SetBillingCustomerID(ctx, tx, org.ID, checkout.CustomerRef); err != nil {
				return err
			}
		}

		for _, priceRef := range checkout.PriceRefs {
			switch checkout.Mode {
			case "subscription":
				if err := s.checkoutSubscription(ctx, tx, org, checkout, priceRef, log); err != nil {
					return err
				}
			case "payment":
				if err := s.checkoutTopUp(ctx, tx, org, checkout, priceRef, log); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Service) resolveCheckoutOrganization(ctx context.Context, checkout *billingsyncdomain.CheckoutSession) (*organizationdomain.Organization, error) {
	if checkout.OrganizationID == "" {
		return nil, skipf("checkout session %s has no organization metadata", checkout.Ref)
	}
	orgID, err := strconv.ParseInt(checkout.OrganizationID, 10, 64)
	if err != nil {
		return nil, skipf("malformed organization id %q", checkout.OrganizationID)
	}
	org, err := s.organizations.FindByID(ctx, s.db, snowflake.ID(orgID))
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, skipf("organization %d not found", orgID)
	}
	return org, nil
}

// checkoutSubscription creates the minimal local record linking the tenant
// to the provider subscription. Billing-period bounds arrive with the
// subscription.created event; the record is backfilled then.
func (s *Service) checkoutSubscription(ctx context.Context, tx *gorm.DB, org *organizationdomain.Organization, checkout *billingsyncdomain.CheckoutSession, priceRef string, log *zap.Logger) error {
	plan, ok := s.catalog.PlanByPriceRef(priceRef)
	if !ok {
		return nil
	}
	if checkout.SubscriptionRef == "" {
		return nil
	}

	sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, checkout.SubscriptionRef)
	if err != nil {
		return err
	}
	if sub == nil {
		now := s.clock.Now()
		sub = &subscriptiondomain.Subscription{
			ID:                      s.node.Generate(),
			OrgID:                   org.ID,
			ProviderSubscriptionRef: &checkout.SubscriptionRef,
			PlanCode:                plan.Code,
			Status:                  subscriptiondomain.SubscriptionStatusActive,
			MonthlyAllowance:        plan.MonthlyAllowance,
			OverageUnitPriceCents:   plan.OverageUnitPriceCents,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if checkout.CustomerRef != "" {
			sub.ProviderCustomerRef = &checkout.CustomerRef
		}
		if err := s.subscriptions.Insert(ctx, tx, sub); err != nil {
			return err
		}
		log.Info("created minimal subscription from checkout",
			zap.String("provider_ref", checkout.SubscriptionRef),
			zap.String("plan", plan.Code))
	}

	return s.ensureOverageItem(ctx, tx, sub, plan, log)
}

// ensureOverageItem attaches the plan's metered price upstream when the
// subscription does not carry one yet.
func (s *Service) ensureOverageItem(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, plan config.PlanConfig, log *zap.Logger) error {
	if plan.OveragePriceRef == "" || sub.ProviderItemOverageRef != nil || sub.ProviderSubscriptionRef == nil {
		return nil
	}

	itemRef, err := s.provider.CreateMeteredItem(ctx, *sub.ProviderSubscriptionRef, plan.OveragePriceRef)
	if err != nil {
		// The item can still arrive via a later subscription event.
		log.Error("attach overage item", zap.Error(err))
		return nil
	}
	sub.ProviderItemOverageRef = &itemRef
	sub.UpdatedAt = s.clock.Now()
	return s.subscriptions.Update(ctx, tx, sub)
}

func (s *Service) checkoutTopUp(ctx context.Context, tx *gorm.DB, org *organizationdomain.Organization, checkout *billingsyncdomain.CheckoutSession, priceRef string, log *zap.Logger) error {
	pkg, ok := s.catalog.TopUpByPriceRef(priceRef)
	if !ok {
		log.Warn("no top-up package for price", zap.String("price_ref", priceRef))
		return nil
	}

	var expiresAt *time.Time
	if pkg.ExpiryDays > 0 {
		expiry := s.clock.Now().AddDate(0, 0, pkg.ExpiryDays)
		expiresAt = &expiry
	}

	_, err := s.grants.IssueTopUp(ctx, tx, grantdomain.IssueTopUpRequest{
		OrgID:              org.ID,
		PackageCode:        pkg.Code,
		Credits:            pkg.Credits,
		PriceCents:         pkg.PriceCents,
		Currency:           s.catalog.Currency,
		ProviderPaymentRef: checkout.PaymentRef,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		return err
	}
	log.Info("issued top-up from checkout",
		zap.String("package", pkg.Code),
		zap.Int64("credits", pkg.Credits))
	return nil
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, provider *billingsyncdomain.ProviderSubscription, log *zap.Logger) error {
	plan, ok := s.catalog.PlanByPriceRef(provider.BasePriceRef())
	if !ok {
		return skipf("no plan for base price %q", provider.BasePriceRef())
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, provider.Ref)
		if err != nil {
			return err
		}

		org, err := s.resolveSubscriptionOrganization(ctx, tx, sub, provider)
		if err != nil {
			return err
		}

		if sub == nil && (provider.PeriodStart == nil || provider.PeriodEnd == nil) {
			return skipf("subscription %s missing period fields", provider.Ref)
		}

		now := s.clock.Now()
		isNew := sub == nil
		if isNew {
			sub = &subscriptiondomain.Subscription{
				ID:                      s.node.Generate(),
				OrgID:                   org.ID,
				ProviderSubscriptionRef: &provider.Ref,
				PlanCode:                plan.Code,
				CreatedAt:               now,
			}
		}
		sub.Status = subscriptiondomain.MapProviderStatus(provider.Status)
		sub.PlanCode = plan.Code
		sub.MonthlyAllowance = plan.MonthlyAllowance
		sub.OverageUnitPriceCents = plan.OverageUnitPriceCents
		sub.CancelAtPeriodEnd = provider.CancelAtPeriodEnd
		if provider.CustomerRef != "" {
			sub.ProviderCustomerRef = &provider.CustomerRef
		}
		if provider.PeriodStart != nil && provider.PeriodEnd != nil {
			sub.CurrentPeriodStart = provider.PeriodStart
			sub.CurrentPeriodEnd = provider.PeriodEnd
		}
		s.applyItemRefs(sub, provider)
		sub.UpdatedAt = now

		if isNew {
			if err := s.subscriptions.Insert(ctx, tx, sub); err != nil {
				return err
			}
		} else if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		if err := s.ensureOverageItem(ctx, tx, sub, plan, log); err != nil {
			return err
		}

		if org.BillingCustomerID == nil && provider.CustomerRef != "" {
			if err := s.organizations.SetBillingCustomerID(ctx, tx, org.ID, provider.CustomerRef); err != nil {
				return err
			}
		}
		if err := s.syncPlanTier(ctx, tx, org.ID, sub); err != nil {
			return err
		}

		return s.openPeriodWithGrant(ctx, tx, sub, log)
	})
}

func (s *Service) resolveSubscriptionOrganization(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, provider *billingsyncdomain.ProviderSubscription) (*organizationdomain.Organization, error) {
	if provider.CustomerRef != "" {
		org, err := s.organizations.FindByBillingCustomerID(ctx, tx, provider.CustomerRef)
		if err != nil {
			return nil, err
		}
		if org != nil {
			return org, nil
		}
	}
	if sub != nil {
		org, err := s.organizations.FindByID(ctx, tx, sub.OrgID)
		if err != nil {
			return nil, err
		}
		if org != nil {
			return org, nil
		}
	}
	// Expected ordering race: subscription.created can beat
	// checkout.session.completed, which carries the tenant link.
	return nil, skipf("organization not yet linked for subscription %s", provider.Ref)
}

func (s *Service) applyItemRefs(sub *subscriptiondomain.Subscription, provider *billingsyncdomain.ProviderSubscription) {
	for _, item := range provider.Items {
		ref := item.Ref
		if item.Metered {
			sub.ProviderItemOverageRef = &ref
			continue
		}
		sub.ProviderItemBaseRef = &ref
		if item.UnitAmountCents > 0 {
			sub.PricePaidCents = item.UnitAmountCents
		}
	}
}

// openPeriodWithGrant opens the usage period matching the subscription's
// current bounds and issues the period's credit grant unless access is
// paused. Both sides are idempotent on their natural keys.
func (s *Service) openPeriodWithGrant(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, log *zap.Logger) error {
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodEnd == nil {
		return nil
	}

	now := s.clock.Now()
	created, err := s.periods.InsertIfAbsent(ctx, tx, &usageperioddomain.UsagePeriod{
		ID:             s.node.Generate(),
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		PeriodStart:    *sub.CurrentPeriodStart,
		PeriodEnd:      *sub.CurrentPeriodEnd,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return err
	}
	if created {
		log.Info("opened usage period",
			zap.String("subscription_id", sub.ID.String()),
			zap.Time("period_end", *sub.CurrentPeriodEnd))
	}

	if sub.PauseAccess {
		log.Warn("skipped period grant, access paused",
			zap.String("subscription_id", sub.ID.String()))
		return nil
	}

	issued, err := s.grants.IssueSubscriptionGrant(ctx, tx, sub.OrgID, sub.ID, sub.MonthlyAllowance, *sub.CurrentPeriodEnd)
	if err != nil {
		return err
	}
	if issued {
		log.Info("issued period credit grant",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("amount", sub.MonthlyAllowance))
	}
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, provider *billingsyncdomain.ProviderSubscription, log *zap.Logger) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, provider.Ref)
		if err != nil {
			return err
		}
		if sub == nil {
			return skipf("subscription %s not known locally", provider.Ref)
		}

		var oldPeriodEnd *time.Time
		if sub.CurrentPeriodEnd != nil {
			end := *sub.CurrentPeriodEnd
			oldPeriodEnd = &end
		}

		sub.Status = subscriptiondomain.MapProviderStatus(provider.Status)
		sub.CancelAtPeriodEnd = provider.CancelAtPeriodEnd
		if provider.PeriodStart != nil && provider.PeriodEnd != nil {
			sub.CurrentPeriodStart = provider.PeriodStart
			sub.CurrentPeriodEnd = provider.PeriodEnd
		}
		s.applyItemRefs(sub, provider)
		if plan, ok := s.catalog.PlanByPriceRef(provider.BasePriceRef()); ok {
			sub.PlanCode = plan.Code
			sub.MonthlyAllowance = plan.MonthlyAllowance
			sub.OverageUnitPriceCents = plan.OverageUnitPriceCents
		}
		sub.UpdatedAt = s.clock.Now()
		if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		if err := s.syncPlanTier(ctx, tx, sub.OrgID, sub); err != nil {
			return err
		}
		if sub.CancelAtPeriodEnd && sub.Status.Entitled() {
			log.Info("subscription scheduled to cancel at period end, tier retained",
				zap.String("subscription_id", sub.ID.String()))
		}

		// A changed period end is a renewal; anything else must not open
		// a period, or the rollover grant would double up.
		periodChanged := provider.PeriodEnd != nil &&
			(oldPeriodEnd == nil || !oldPeriodEnd.Equal(*provider.PeriodEnd))
		if !periodChanged {
			return nil
		}

		// Close the outgoing period before opening the next one; a
		// subscription never has two open periods.
		period, err := s.periods.FindOpenBySubscriptionIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if period != nil {
			if err := s.reportPeriodOverage(ctx, tx, sub, period, log); err != nil {
				return err
			}
			if err := s.periods.Close(ctx, tx, period.ID); err != nil {
				return err
			}
		}
		return s.openPeriodWithGrant(ctx, tx, sub, log)
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, provider *billingsyncdomain.ProviderSubscription, log *zap.Logger) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, provider.Ref)
		if err != nil {
			return err
		}
		if sub == nil {
			return skipf("subscription %s not known locally", provider.Ref)
		}

		sub.Status = subscriptiondomain.SubscriptionStatusCancelled
		sub.PauseAccess = true
		sub.CancelAtPeriodEnd = false
		sub.UpdatedAt = s.clock.Now()
		if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		log.Info("subscription cancelled, tenant downgraded",
			zap.String("subscription_id", sub.ID.String()))
		return s.organizations.UpdatePlanTier(ctx, tx, sub.OrgID, organizationdomain.PlanTierFree)
	})
}

// handleInvoiceFinalized reports the period's unreported overage, closes
// the period, and rolls over to the next one.
func (s *Service) handleInvoiceFinalized(ctx context.Context, invoice *billingsyncdomain.ProviderInvoice, log *zap.Logger) error {
	if invoice.SubscriptionRef == "" {
		return skipf("invoice %s has no subscription", invoice.Ref)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, invoice.SubscriptionRef)
		if err != nil {
			return err
		}
		if sub == nil {
			return skipf("subscription %s not known locally", invoice.SubscriptionRef)
		}

		period, err := s.periods.FindOpenBySubscriptionIDForUpdate(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if period != nil {
			if err := s.reportPeriodOverage(ctx, tx, sub, period, log); err != nil {
				return err
			}
			if err := s.periods.Close(ctx, tx, period.ID); err != nil {
				return err
			}
		}

		nextStart, nextEnd := invoice.PeriodStart, invoice.PeriodEnd
		if nextStart == nil {
			nextStart = sub.CurrentPeriodStart
		}
		if nextEnd == nil {
			nextEnd = sub.CurrentPeriodEnd
		}
		if nextStart == nil || nextEnd == nil {
			return skipf("invoice %s carries no period bounds", invoice.Ref)
		}
		sub.CurrentPeriodStart = nextStart
		sub.CurrentPeriodEnd = nextEnd
		sub.UpdatedAt = s.clock.Now()
		if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		return s.openPeriodWithGrant(ctx, tx, sub, log)
	})
}

// reportPeriodOverage sends the unreported delta upstream and advances the
// reported counter only after the provider confirmed the meter event.
func (s *Service) reportPeriodOverage(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, period *usageperioddomain.UsagePeriod, log *zap.Logger) error {
	delta := period.OverageUsed - period.OverageReported
	if delta <= 0 {
		return nil
	}
	if sub.ProviderCustomerRef == nil {
		log.Warn("cannot report overage without customer ref",
			zap.String("subscription_id", sub.ID.String()))
		return nil
	}

	if err := s.provider.ReportOverage(ctx, *sub.ProviderCustomerRef, delta, s.clock.Now()); err != nil {
		// Leave overage_reported untouched; the scheduled reporter
		// retries the delta.
		log.Error("report overage", zap.Int64("delta", delta), zap.Error(err))
		return nil
	}
	if err := s.periods.AdvanceReported(ctx, tx, period.ID, delta); err != nil {
		return err
	}
	s.metrics.AddReportedCredits(delta)
	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, invoice *billingsyncdomain.ProviderInvoice, log *zap.Logger) error {
	if invoice.SubscriptionRef == "" {
		return skipf("invoice %s has no subscription", invoice.Ref)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, invoice.SubscriptionRef)
		if err != nil {
			return err
		}
		if sub == nil {
			return skipf("subscription %s not known locally", invoice.SubscriptionRef)
		}

		wasPaused := sub.PauseAccess
		sub.PauseAccess = false
		if sub.Status == subscriptiondomain.SubscriptionStatusPastDue {
			sub.Status = subscriptiondomain.SubscriptionStatusActive
			log.Info("subscription recovered from past_due",
				zap.String("subscription_id", sub.ID.String()))
		}
		sub.UpdatedAt = s.clock.Now()
		if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		// Make the tenant whole: issue the grant the pause withheld for
		// the current period. Idempotent on the period's natural key.
		if wasPaused && sub.CurrentPeriodEnd != nil {
			issued, err := s.grants.IssueSubscriptionGrant(ctx, tx, sub.OrgID, sub.ID, sub.MonthlyAllowance, *sub.CurrentPeriodEnd)
			if err != nil {
				return err
			}
			if issued {
				log.Info("issued missed credit grant after payment recovery",
					zap.String("subscription_id", sub.ID.String()))
			}
		}

		return s.syncPlanTier(ctx, tx, sub.OrgID, sub)
	})
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, invoice *billingsyncdomain.ProviderInvoice, log *zap.Logger) error {
	if invoice.SubscriptionRef == "" {
		return skipf("invoice %s has no subscription", invoice.Ref)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.FindByProviderRefForUpdate(ctx, tx, invoice.SubscriptionRef)
		if err != nil {
			return err
		}
		if sub == nil {
			return skipf("subscription %s not known locally", invoice.SubscriptionRef)
		}

		// Grace period: access pauses but the tier survives until a
		// terminal status arrives.
		sub.PauseAccess = true
		sub.Status = subscriptiondomain.SubscriptionStatusPastDue
		sub.UpdatedAt = s.clock.Now()
		if err := s.subscriptions.Update(ctx, tx, sub); err != nil {
			return err
		}

		log.Warn("invoice payment failed, access paused",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("attempt", invoice.AttemptCount))
		return nil
	})
}

func (s *Service) handleChargeRefunded(ctx context.Context, charge *billingsyncdomain.ProviderCharge, log *zap.Logger) error {
	if charge.PaymentRef == "" || charge.AmountCents <= 0 {
		return skipf("charge %s has no refundable payment", charge.Ref)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.grants.RefundTopUp(ctx, tx, charge.PaymentRef, charge.AmountRefundedCents, charge.AmountCents)
		if err == grantdomain.ErrTopUpNotFound {
			return skipf("no top-up for payment %s", charge.PaymentRef)
		}
		if err != nil {
			return err
		}
		log.Info("clawed back refunded top-up credits",
			zap.String("payment_ref", charge.PaymentRef),
			zap.Int64("refunded_cents", charge.AmountRefundedCents))
		return nil
	})
}

// syncPlanTier derives the tenant's tier from the subscription status.
// Terminal statuses force FREE, entitled statuses grant SUBSCRIBED, and
// anything in between leaves the tier alone.
func (s *Service) syncPlanTier(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, sub *subscriptiondomain.Subscription) error {
	switch {
	case sub.Status.Terminal():
		return s.organizations.UpdatePlanTier(ctx, tx, orgID, organizationdomain.PlanTierFree)
	case sub.Status.Entitled():
		return s.organizations.UpdatePlanTier(ctx, tx, orgID, organizationdomain.PlanTierSubscribed)
	}
	return nil
}

type skipError struct{ msg string }

func (e skipError) Error() string { return e.msg }

func skipf(format string, args ...any) error {
	return skipError{msg: fmt.Sprintf(format, args...)}
}

func errorIsSkip(err error) bool {
	_, ok := err.(skipError)
	return ok
}
