package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	"github.com/smallbiznis/kredit/internal/clock"
	consumptiondomain "github.com/smallbiznis/kredit/internal/consumption/domain"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/observability/logger"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
	usageperioddomain "github.com/smallbiznis/kredit/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Node          *snowflake.Node
	Clock         clock.Clock
	Log           *zap.Logger
	Subscriptions subscriptiondomain.Repository
	Periods       usageperioddomain.Repository
	Grants        grantdomain.Repository
	Usage         usagedomain.Repository
	Alerts        alertdomain.Engine
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	node          *snowflake.Node
	clock         clock.Clock
	log           *zap.Logger
	subscriptions subscriptiondomain.Repository
	periods       usageperioddomain.Repository
	grants        grantdomain.Repository
	usage         usagedomain.Repository
	alerts        alertdomain.Engine
	metrics       *metrics.Metrics
}

func NewService(p ServiceParam) consumptiondomain.Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		clock:         p.Clock,
		log:           p.Log.Named("consumption.service"),
		subscriptions: p.Subscriptions,
		periods:       p.Periods,
		grants:        p.Grants,
		usage:         p.Usage,
		alerts:        p.Alerts,
		metrics:       p.Metrics,
	}
}

// Consume spends credits in priority order: subscription grants, then
// wallet grants (earliest expiry first), then period overage. The whole
// operation runs in one transaction with the touched grant rows locked, so
// either every mutation commits or none does.
func (s *Service) Consume(ctx context.Context, req consumptiondomain.ConsumeRequest) (*consumptiondomain.ConsumeResult, error) {
	if req.Credits <= 0 {
		s.metrics.RecordConsume("invalid_amount")
		return nil, consumptiondomain.ErrInvalidAmount
	}

	var (
		result *consumptiondomain.ConsumeResult
		fired  []*alertdomain.Alert
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, fired, txErr = s.consumeTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		s.metrics.RecordConsume(outcomeLabel(err))
		return nil, err
	}

	s.metrics.RecordConsume("success")
	s.metrics.AddCreditsConsumed(result.CreditsConsumed)
	s.metrics.AddOverageRecorded(result.OverageRecorded)

	// Notifications ride outside the transaction: a dispatch failure must
	// never unwind a committed consumption.
	if len(fired) > 0 {
		s.alerts.Dispatch(ctx, fired)
	}
	return result, nil
}

func (s *Service) consumeTx(ctx context.Context, tx *gorm.DB, req consumptiondomain.ConsumeRequest) (*consumptiondomain.ConsumeResult, []*alertdomain.Alert, error) {
	now := s.clock.Now()

	subscription, err := s.subscriptions.FindActiveByOrgIDForUpdate(ctx, tx, req.OrgID)
	if err != nil {
		return nil, nil, err
	}

	var (
		period    *usageperioddomain.UsagePeriod
		subGrants []grantdomain.CreditGrant
	)
	if subscription != nil {
		if subscription.PauseAccess {
			return nil, nil, consumptiondomain.ErrAccessPaused
		}
		period, err = s.periods.FindOpenBySubscriptionIDForUpdate(ctx, tx, subscription.ID)
		if err != nil {
			return nil, nil, err
		}
		if period == nil {
			logger.FromContext(ctx).Error("active subscription has no open usage period",
				zap.String("subscription_id", subscription.ID.String()))
			return nil, nil, consumptiondomain.ErrNoActivePeriod
		}
		subGrants, err = s.grants.SubscriptionGrantsForUpdate(ctx, tx, subscription.ID, now)
		if err != nil {
			return nil, nil, err
		}
	}

	walletGrants, err := s.grants.WalletGrantsForUpdate(ctx, tx, req.OrgID, now)
	if err != nil {
		return nil, nil, err
	}

	subAvailable := sumRemaining(subGrants)
	walletAvailable := sumRemaining(walletGrants)

	// Full admission check before any debit. Failing here leaves no trace.
	overageNeeded := req.Credits - (subAvailable + walletAvailable)
	if overageNeeded < 0 {
		overageNeeded = 0
	}
	if overageNeeded > 0 {
		if subscription == nil || !subscription.OverageEnabled {
			return nil, nil, consumptiondomain.ErrNoCreditsAvailable
		}
		if cap := subscription.EffectiveOverageCap(); cap != nil && period.OverageUsed+overageNeeded > *cap {
			return nil, nil, consumptiondomain.ErrOverageCapExceeded
		}
	}

	still := req.Credits
	touched := 0
	for _, grants := range [][]grantdomain.CreditGrant{subGrants, walletGrants} {
		for i := range grants {
			if still == 0 {
				break
			}
			grant := &grants[i]
			amount := grant.RemainingAmount
			if amount > still {
				amount = still
			}
			if amount == 0 {
				continue
			}
			if err := s.debitGrant(ctx, tx, grant, amount, req, now); err != nil {
				return nil, nil, err
			}
			still -= amount
			touched++
		}
	}

	if still > 0 {
		if err := s.periods.AddOverage(ctx, tx, period.ID, still); err != nil {
			return nil, nil, err
		}
	}

	fromGrants := req.Credits - still
	result := &consumptiondomain.ConsumeResult{
		CreditsConsumed: fromGrants,
		OverageRecorded: still,
		GrantsTouched:   touched,
	}
	fromSubscription := min64(fromGrants, subAvailable)
	result.SubscriptionRemaining = subAvailable - fromSubscription
	result.WalletRemaining = walletAvailable - (fromGrants - fromSubscription)

	// Threshold evaluation includes this request's debit, so the call
	// that crosses a boundary fires the alert it crossed.
	var fired []*alertdomain.Alert
	if subscription != nil && subscription.MonthlyAllowance > 0 {
		fraction := float64(subscription.MonthlyAllowance-result.SubscriptionRemaining) / float64(subscription.MonthlyAllowance)
		fired, err = s.alerts.Evaluate(ctx, tx, subscription, period.ID, fraction)
		if err != nil {
			return nil, nil, err
		}
	}

	return result, fired, nil
}

// debitGrant applies one guarded decrement and its ledger entry. A guard
// failure means the pre-check promised balance the row no longer has, which
// is a bug, not a retryable condition.
func (s *Service) debitGrant(ctx context.Context, tx *gorm.DB, grant *grantdomain.CreditGrant, amount int64, req consumptiondomain.ConsumeRequest, now time.Time) error {
	if err := s.grants.Debit(ctx, tx, grant.ID, amount); err != nil {
		if errors.Is(err, grantdomain.ErrGrantOverdrawn) {
			logger.FromContext(ctx).Error("grant balance diverged from pre-check",
				zap.String("grant_id", grant.ID.String()),
				zap.Int64("amount", amount))
			return consumptiondomain.ErrInternal
		}
		return err
	}

	record := &usagedomain.UsageRecord{
		ID:              s.node.Generate(),
		OrgID:           req.OrgID,
		SubscriptionID:  grant.SubscriptionID,
		TopUpID:         grant.TopUpID,
		GrantID:         grant.ID,
		GrantType:       string(grant.GrantType),
		CreditsConsumed: amount,
		UserID:          req.UserID,
		APIKeyID:        req.APIKeyID,
		CreatedAt:       now,
	}
	return s.usage.Insert(ctx, tx, record)
}

// GetBalance sums spendable credits without taking locks. It is advisory;
// only Consume is authoritative.
func (s *Service) GetBalance(ctx context.Context, orgID snowflake.ID) (*consumptiondomain.Balance, error) {
	now := s.clock.Now()
	balance := &consumptiondomain.Balance{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.subscriptions.FindActiveByOrgID(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if subscription != nil {
			grants, err := s.grants.SubscriptionGrants(ctx, tx, subscription.ID, now)
			if err != nil {
				return err
			}
			balance.SubscriptionRemaining = sumRemaining(grants)

			period, err := s.periods.FindOpenBySubscriptionID(ctx, tx, subscription.ID)
			if err != nil {
				return err
			}
			if period != nil {
				balance.OverageUsed = period.OverageUsed
			}
		}

		wallet, err := s.grants.WalletGrants(ctx, tx, orgID, now)
		if err != nil {
			return err
		}
		balance.WalletRemaining = sumRemaining(wallet)
		return nil
	})
	if err != nil {
		return nil, err
	}

	balance.TotalRemaining = balance.SubscriptionRemaining + balance.WalletRemaining
	return balance, nil
}

func sumRemaining(grants []grantdomain.CreditGrant) int64 {
	var total int64
	for i := range grants {
		total += grants[i].RemainingAmount
	}
	return total
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, consumptiondomain.ErrAccessPaused):
		return "access_paused"
	case errors.Is(err, consumptiondomain.ErrNoActivePeriod):
		return "no_active_period"
	case errors.Is(err, consumptiondomain.ErrNoCreditsAvailable):
		return "no_credits"
	case errors.Is(err, consumptiondomain.ErrOverageCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, consumptiondomain.ErrInternal):
		return "internal"
	default:
		return "error"
	}
}
