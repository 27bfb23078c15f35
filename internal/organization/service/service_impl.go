package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/clock"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Log    *zap.Logger
	Repo   organizationdomain.Repository
	Grants grantdomain.TrialIssuer
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  clock.Clock
	log    *zap.Logger
	repo   organizationdomain.Repository
	grants grantdomain.TrialIssuer
}

func NewService(p ServiceParam) organizationdomain.Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		clock:  p.Clock,
		log:    p.Log.Named("organization.service"),
		repo:   p.Repo,
		grants: p.Grants,
	}
}

// Create registers the tenant and issues its signup trial credits in the
// same transaction.
func (s *Service) Create(ctx context.Context, req organizationdomain.CreateRequest) (*organizationdomain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, organizationdomain.ErrInvalidOrganizationName
	}

	now := s.clock.Now()
	organization := &organizationdomain.Organization{
		ID:        s.node.Generate(),
		Name:      name,
		PlanTier:  organizationdomain.PlanTierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if email := strings.TrimSpace(req.BillingEmail); email != "" {
		organization.BillingEmail = &email
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, organization); err != nil {
			return err
		}
		return s.grants.IssueTrial(ctx, tx, organization.ID)
	}); err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", organization.ID.String()),
	)
	return organization, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*organizationdomain.Organization, error) {
	if id == 0 {
		return nil, organizationdomain.ErrInvalidOrganizationID
	}
	organization, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if organization == nil {
		return nil, organizationdomain.ErrOrganizationNotFound
	}
	return organization, nil
}

func (s *Service) SetBillingCustomer(ctx context.Context, id snowflake.ID, customerRef string) error {
	if id == 0 {
		return organizationdomain.ErrInvalidOrganizationID
	}
	if customerRef == "" {
		return nil
	}
	return s.repo.SetBillingCustomerID(ctx, s.db, id, customerRef)
}
