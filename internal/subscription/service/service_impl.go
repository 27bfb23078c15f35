package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/clock"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
	Log   *zap.Logger
	Repo  subscriptiondomain.Repository
}

type Service struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger
	repo  subscriptiondomain.Repository
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		clock: p.Clock,
		log:   p.Log.Named("subscription.service"),
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if id == 0 {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.OrgID != orgID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListByOrgID(ctx, s.db, orgID)
}

// UpdateOverageSettings toggles metered overage. Disabling clears the cap
// to zero so the consumption engine rejects any overage outright.
func (s *Service) UpdateOverageSettings(ctx context.Context, req subscriptiondomain.UpdateOverageSettingsRequest) (*subscriptiondomain.Subscription, error) {
	var updated *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil || sub.OrgID != req.OrgID {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		sub.OverageEnabled = req.Enabled
		if req.Cap != nil {
			sub.OverageCap = req.Cap
		} else if !req.Enabled {
			zero := int64(0)
			sub.OverageCap = &zero
		}
		sub.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
