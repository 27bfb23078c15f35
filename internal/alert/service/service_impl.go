package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	"github.com/smallbiznis/kredit/internal/clock"
	"github.com/smallbiznis/kredit/internal/config"
	"github.com/smallbiznis/kredit/internal/observability/logger"
	"github.com/smallbiznis/kredit/internal/observability/metrics"
	"github.com/smallbiznis/kredit/internal/providers/email"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	"github.com/smallbiznis/kredit/pkg/db/option"
	"github.com/smallbiznis/kredit/pkg/db/pagination"
	"github.com/smallbiznis/kredit/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Config  config.Config
	Repo    alertdomain.Repository
	Email   email.Provider
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	cfg     config.Config
	repo    alertdomain.Repository
	store   repository.Repository[alertdomain.Alert]
	email   email.Provider
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) alertdomain.Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		clock:   p.Clock,
		log:     p.Log.Named("alert.service"),
		cfg:     p.Config,
		repo:    p.Repo,
		store:   repository.ProvideStore[alertdomain.Alert](p.DB),
		email:   p.Email,
		metrics: p.Metrics,
	}
}

// Evaluate fires every not-yet-fired threshold at or below fraction. It
// runs inside the consumption transaction so the inserted Alert rows commit
// or roll back together with the debits that triggered them.
func (s *Service) Evaluate(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, periodID snowflake.ID, fraction float64) ([]*alertdomain.Alert, error) {
	settings, err := s.repo.FindSettingsBySubscriptionID(ctx, tx, subscription.ID)
	if err != nil {
		return nil, err
	}
	if settings == nil || !settings.Enabled {
		return nil, nil
	}

	thresholds, err := settings.ThresholdList()
	if err != nil {
		s.log.Error("malformed alert thresholds",
			zap.String("subscription_id", subscription.ID.String()), zap.Error(err))
		return nil, nil
	}
	if len(thresholds) == 0 {
		return nil, nil
	}
	sort.Float64s(thresholds)

	now := s.clock.Now()
	var fired []*alertdomain.Alert
	for _, threshold := range thresholds {
		if fraction < threshold {
			continue
		}

		key := s.dedupKey(subscription.ID, periodID, threshold)
		exists, err := s.repo.DedupKeyExists(ctx, tx, subscription.ID, key)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		alert := &alertdomain.Alert{
			ID:                s.node.Generate(),
			OrgID:             subscription.OrgID,
			SubscriptionID:    subscription.ID,
			Category:          alertdomain.CategoryThreshold,
			ThresholdFraction: threshold,
			Message:           fmt.Sprintf("Usage at %.0f%% threshold reached", threshold*100),
			Severity:          alertdomain.SeverityWarning,
			DedupKey:          key,
			TriggeredAt:       now,
			CreatedAt:         now,
		}
		if err := s.repo.InsertAlert(ctx, tx, alert); err != nil {
			return nil, err
		}
		fired = append(fired, alert)
	}
	return fired, nil
}

// dedupKey scopes threshold deduplication. The subscription scope never
// re-fires a threshold for the lifetime of the subscription; the period
// scope resets thresholds on every billing cycle.
func (s *Service) dedupKey(subscriptionID, periodID snowflake.ID, threshold float64) string {
	frac := strconv.FormatFloat(threshold, 'f', -1, 64)
	if s.cfg.AlertDedupScope == config.DedupScopePeriod {
		return fmt.Sprintf("%d:%s", periodID, frac)
	}
	return fmt.Sprintf("%d:%s", subscriptionID, frac)
}

// Dispatch emails fired alerts to the configured destinations. Errors are
// logged and swallowed; the triggering consumption already committed.
func (s *Service) Dispatch(ctx context.Context, alerts []*alertdomain.Alert) {
	for _, alert := range alerts {
		log := logger.FromContext(ctx).Named("alert.service").With(
			zap.String("subscription_id", alert.SubscriptionID.String()),
			zap.Float64("threshold", alert.ThresholdFraction),
		)

		settings, err := s.repo.FindSettingsBySubscriptionID(ctx, s.db, alert.SubscriptionID)
		if err != nil || settings == nil {
			log.Warn("alert settings unavailable for dispatch", zap.Error(err))
			continue
		}
		destinations, err := settings.DestinationList()
		if err != nil || len(destinations) == 0 {
			log.Warn("no alert destinations configured", zap.Error(err))
			continue
		}

		subject := fmt.Sprintf("Credit usage alert: %.0f%% of allowance used", alert.ThresholdFraction*100)
		body := fmt.Sprintf("<p>%s</p>", alert.Message)
		if err := s.email.Send(ctx, destinations, subject, body); err != nil {
			log.Warn("alert notification failed", zap.Error(err))
			continue
		}

		s.metrics.RecordAlertFired()
		log.Info("alert notification sent", zap.Strings("destinations", destinations))
	}
}

// GetSettings creates disabled defaults on first access so the settings
// endpoint always returns a row.
func (s *Service) GetSettings(ctx context.Context, orgID, subscriptionID snowflake.ID) (*alertdomain.AlertSettings, error) {
	settings, err := s.repo.FindSettingsBySubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		return settings, nil
	}

	now := s.clock.Now()
	settings = &alertdomain.AlertSettings{
		ID:             s.node.Generate(),
		OrgID:          orgID,
		SubscriptionID: subscriptionID,
		Enabled:        false,
		Thresholds:     datatypes.JSON([]byte("[]")),
		Destinations:   datatypes.JSON([]byte("[]")),
		Locale:         "en",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertSettings(ctx, s.db, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Service) UpsertSettings(ctx context.Context, req alertdomain.UpsertSettingsRequest) (*alertdomain.AlertSettings, error) {
	if req.Enabled && (len(req.Thresholds) == 0 || len(req.Destinations) == 0) {
		return nil, alertdomain.ErrSettingsIncomplete
	}

	thresholds, err := encodeJSON(req.Thresholds)
	if err != nil {
		return nil, err
	}
	destinations, err := encodeJSON(req.Destinations)
	if err != nil {
		return nil, err
	}

	locale := req.Locale
	if locale == "" {
		locale = "en"
	}

	now := s.clock.Now()
	settings, err := s.repo.FindSettingsBySubscriptionID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &alertdomain.AlertSettings{
			ID:             s.node.Generate(),
			OrgID:          req.OrgID,
			SubscriptionID: req.SubscriptionID,
			Enabled:        req.Enabled,
			Thresholds:     thresholds,
			Destinations:   destinations,
			Locale:         locale,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertSettings(ctx, s.db, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}

	settings.Enabled = req.Enabled
	settings.Thresholds = thresholds
	settings.Destinations = destinations
	settings.Locale = locale
	settings.UpdatedAt = now
	if err := s.repo.UpdateSettings(ctx, s.db, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Service) List(ctx context.Context, req alertdomain.ListAlertsRequest) (alertdomain.ListAlertsResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	alerts, err := s.store.Find(ctx, &alertdomain.Alert{OrgID: req.OrgID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
	)
	if err != nil {
		return alertdomain.ListAlertsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(alerts, int32(pageSize), func(alert *alertdomain.Alert) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: alert.ID.String()})
		return token
	})
	if len(alerts) > pageSize {
		alerts = alerts[:pageSize]
	}
	return alertdomain.ListAlertsResponse{
		Alerts:        alerts,
		NextPageToken: pageInfo.NextPageToken,
		HasMore:       pageInfo.HasMore,
	}, nil
}
