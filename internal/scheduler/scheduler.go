// Package scheduler drives the periodic jobs: overage reporting and the
// expired-grant sweep.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/kredit/internal/clock"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	"github.com/smallbiznis/kredit/internal/reporter"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Reporter *reporter.Reporter
	Grants   grantdomain.Repository
	Config   Config           `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	reporter *reporter.Reporter
	grants   grantdomain.Repository
	metrics  *metrics.Metrics

	lastSweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Reporter == nil || p.Grants == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		reporter: p.Reporter,
		grants:   p.Grants,
		metrics:  p.Metrics,
	}, nil
}

// RunForever ticks the reporter on its interval and folds the slower
// expiry sweep into the same loop.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReporterInterval)
	defer ticker.Stop()
	s.lastSweep = s.clock.Now()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.runJob(ctx, "report_overage", s.reporter.RunOnce); err != nil {
		return err
	}

	if s.clock.Now().Sub(s.lastSweep) >= s.cfg.SweepInterval {
		if err := s.runJob(ctx, "sweep_expired_grants", s.sweepExpiredGrants); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		log.Error("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	log.Debug("job finished", zap.Duration("elapsed", elapsed))
	return nil
}

// sweepExpiredGrants totals credits lost to expiry since the last sweep.
// Balances are never mutated; expiry is enforced at read time by the
// spendable-grant queries, this job only surfaces the waste.
func (s *Scheduler) sweepExpiredGrants(ctx context.Context) error {
	now := s.clock.Now()
	lost, err := s.grants.ExpiredRemainders(ctx, s.db, s.lastSweep, now)
	if err != nil {
		return err
	}
	s.lastSweep = now

	if lost > 0 {
		s.metrics.AddExpiredRemainder(lost)
		s.log.Info("credits expired unspent", zap.Int64("credits", lost))
	}
	return nil
}
