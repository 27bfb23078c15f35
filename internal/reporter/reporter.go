// Package reporter pushes accumulated overage deltas to the billing
// provider on a schedule, so metered usage reaches the invoice even when
// no invoice event has fired yet.
package reporter

import (
	"context"

	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	usageperioddomain "github.com/smallbiznis/kredit/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Clock         clock.Clock
	Log           *zap.Logger
	Periods       usageperioddomain.Repository
	Subscriptions subscriptiondomain.Repository
	Provider      billing.Provider
	Metrics       *metrics.Metrics `optional:"true"`
}

type Reporter struct {
	db            *gorm.DB
	clock         clock.Clock
	log           *zap.Logger
	periods       usageperioddomain.Repository
	subscriptions subscriptiondomain.Repository
	provider      billing.Provider
	metrics       *metrics.Metrics
}

func New(p Params) *Reporter {
	return &Reporter{
		db:            p.DB,
		clock:         p.Clock,
		log:           p.Log.Named("reporter"),
		periods:       p.Periods,
		subscriptions: p.Subscriptions,
		provider:      p.Provider,
		metrics:       p.Metrics,
	}
}

// RunOnce walks every open usage period and reports its unreported delta.
// One bad period never blocks the rest; errors are logged per period.
func (r *Reporter) RunOnce(ctx context.Context) error {
	periods, err := r.periods.ListOpen(ctx, r.db)
	if err != nil {
		r.metrics.RecordReporterRun("error")
		return err
	}

	var failed int
	for i := range periods {
		if err := r.reportPeriod(ctx, &periods[i]); err != nil {
			failed++
			r.log.Error("report period overage",
				zap.String("period_id", periods[i].ID.String()),
				zap.Error(err))
		}
	}

	if failed > 0 {
		r.metrics.RecordReporterRun("partial")
	} else {
		r.metrics.RecordReporterRun("success")
	}
	return nil
}

// reportPeriod sends one period's delta and advances the reported counter
// only after the provider confirmed the meter event.
func (r *Reporter) reportPeriod(ctx context.Context, period *usageperioddomain.UsagePeriod) error {
	delta := period.OverageUsed - period.OverageReported
	if delta <= 0 {
		return nil
	}

	sub, err := r.subscriptions.FindByID(ctx, r.db, period.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || sub.ProviderCustomerRef == nil || sub.ProviderItemOverageRef == nil {
		return nil
	}

	if err := r.provider.ReportOverage(ctx, *sub.ProviderCustomerRef, delta, r.clock.Now()); err != nil {
		return err
	}
	if err := r.periods.AdvanceReported(ctx, r.db, period.ID, delta); err != nil {
		return err
	}

	r.metrics.AddReportedCredits(delta)
	r.log.Info("reported overage delta",
		zap.String("subscription_id", period.SubscriptionID.String()),
		zap.Int64("delta", delta))
	return nil
}
