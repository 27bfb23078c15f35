package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/config"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	"github.com/smallbiznis/kredit/pkg/db/option"
	"github.com/smallbiznis/kredit/pkg/db/pagination"
	"github.com/smallbiznis/kredit/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Repo    grantdomain.Repository
	Catalog config.Catalog
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	repo    grantdomain.Repository
	store   repository.Repository[grantdomain.CreditGrant]
	catalog config.Catalog
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) grantdomain.Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		clock:   p.Clock,
		log:     p.Log.Named("grant.service"),
		repo:    p.Repo,
		store:   repository.ProvideStore[grantdomain.CreditGrant](p.DB),
		catalog: p.Catalog,
		metrics: p.Metrics,
	}
}

func (s *Service) IssueTrial(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	credits := s.catalog.TrialCredits
	if credits <= 0 {
		return nil
	}

	var expiresAt *time.Time
	if days := s.catalog.TrialExpiryDays; days > 0 {
		expiry := s.clock.Now().AddDate(0, 0, days)
		expiresAt = &expiry
	}

	_, err := s.IssueTopUp(ctx, tx, grantdomain.IssueTopUpRequest{
		OrgID:       orgID,
		PackageCode: "TRIAL",
		Credits:     credits,
		Currency:    s.catalog.Currency,
		ExpiresAt:   expiresAt,
		Trial:       true,
	})
	return err
}

// IssueSubscriptionGrant creates the period grant unless one already
// exists for the same period end. Redelivered webhooks make this path
// re-entrant, so existence is checked inside the caller's transaction.
func (s *Service) IssueSubscriptionGrant(ctx context.Context, tx *gorm.DB, orgID, subscriptionID snowflake.ID, amount int64, periodEnd time.Time) (bool, error) {
	if amount <= 0 {
		return false, grantdomain.ErrInvalidGrantAmount
	}

	exists, err := s.repo.SubscriptionGrantExistsForPeriod(ctx, tx, subscriptionID, periodEnd)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	now := s.clock.Now()
	expiry := periodEnd
	grant := &grantdomain.CreditGrant{
		ID:              s.node.Generate(),
		OrgID:           orgID,
		SubscriptionID:  &subscriptionID,
		GrantType:       grantdomain.GrantTypeSubscription,
		Amount:          amount,
		RemainingAmount: amount,
		ExpiresAt:       &expiry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertGrant(ctx, tx, grant); err != nil {
		return false, err
	}

	s.metrics.RecordGrantIssued(string(grantdomain.GrantTypeSubscription))
	return true, nil
}

func (s *Service) IssueTopUp(ctx context.Context, tx *gorm.DB, req grantdomain.IssueTopUpRequest) (*grantdomain.TopUp, error) {
	if req.Credits <= 0 {
		return nil, grantdomain.ErrInvalidGrantAmount
	}

	// Redelivered checkout events carry the same payment reference.
	if ref := strings.TrimSpace(req.ProviderPaymentRef); ref != "" {
		existing, err := s.repo.FindTopUpByProviderPaymentRef(ctx, tx, ref)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := s.clock.Now()
	topUp := &grantdomain.TopUp{
		ID:          s.node.Generate(),
		OrgID:       req.OrgID,
		PackageCode: req.PackageCode,
		Credits:     req.Credits,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref := strings.TrimSpace(req.ProviderPaymentRef); ref != "" {
		topUp.ProviderPaymentRef = &ref
	}
	if err := s.repo.InsertTopUp(ctx, tx, topUp); err != nil {
		return nil, err
	}

	grantType := grantdomain.GrantTypeTopUp
	if req.Trial {
		grantType = grantdomain.GrantTypeTrial
	}
	grant := &grantdomain.CreditGrant{
		ID:              s.node.Generate(),
		OrgID:           req.OrgID,
		TopUpID:         &topUp.ID,
		GrantType:       grantType,
		Amount:          req.Credits,
		RemainingAmount: req.Credits,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertGrant(ctx, tx, grant); err != nil {
		return nil, err
	}

	s.metrics.RecordGrantIssued(string(grantType))
	return topUp, nil
}

// RefundTopUp claws back credits proportionally to the refunded amount.
// A fully refunded top-up zeroes its grants; a partially spent grant is
// floored at zero rather than driven negative.
func (s *Service) RefundTopUp(ctx context.Context, tx *gorm.DB, providerPaymentRef string, amountRefundedCents, amountTotalCents int64) error {
	topUp, err := s.repo.FindTopUpByProviderPaymentRef(ctx, tx, strings.TrimSpace(providerPaymentRef))
	if err != nil {
		return err
	}
	if topUp == nil {
		return grantdomain.ErrTopUpNotFound
	}
	if amountRefundedCents <= 0 || amountTotalCents <= 0 {
		return nil
	}

	clawback := topUp.Credits * amountRefundedCents / amountTotalCents
	if clawback <= 0 {
		return nil
	}

	grants, err := s.repo.FindGrantsByTopUpIDForUpdate(ctx, tx, topUp.ID)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		if err := s.repo.Clawback(ctx, tx, grant.ID, clawback); err != nil {
			return err
		}
	}

	s.log.Info("topup refund clawback applied",
		zap.String("org_id", topUp.OrgID.String()),
		zap.String("topup_id", topUp.ID.String()),
		zap.Int64("credits", clawback),
	)
	return nil
}

func (s *Service) List(ctx context.Context, req grantdomain.ListGrantsRequest) (grantdomain.ListGrantsResponse, error) {
	if req.OrgID == 0 {
		return grantdomain.ListGrantsResponse{}, grantdomain.ErrGrantNotFound
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	filter := &grantdomain.CreditGrant{OrgID: req.OrgID}
	if grantType := strings.TrimSpace(req.GrantType); grantType != "" {
		filter.GrantType = grantdomain.GrantType(strings.ToUpper(grantType))
	}

	grants, err := s.store.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
	)
	if err != nil {
		return grantdomain.ListGrantsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(grants, int32(pageSize), func(grant *grantdomain.CreditGrant) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: grant.ID.String()})
		return token
	})
	if len(grants) > pageSize {
		grants = grants[:pageSize]
	}
	return grantdomain.ListGrantsResponse{
		Grants:        grants,
		NextPageToken: pageInfo.NextPageToken,
		HasMore:       pageInfo.HasMore,
	}, nil
}
