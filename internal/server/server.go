package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	billingsyncdomain "github.com/smallbiznis/kredit/internal/billingsync/domain"
	"github.com/smallbiznis/kredit/internal/config"
	consumptiondomain "github.com/smallbiznis/kredit/internal/consumption/domain"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
	usageperioddomain "github.com/smallbiznis/kredit/internal/usageperiod/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServerParams struct {
	fx.In

	Config        config.Config
	Catalog       config.Catalog
	Log           *zap.Logger
	DB            *gorm.DB
	Organizations organizationdomain.Service
	Subscriptions subscriptiondomain.Service
	Consumption   consumptiondomain.Service
	Grants        grantdomain.Service
	Usage         usagedomain.Service
	Periods       usageperioddomain.Repository
	Alerts        alertdomain.Service
	Synchronizer  billingsyncdomain.Synchronizer
	Billing       billing.Provider
}

type Server struct {
	cfg           config.Config
	catalog       config.Catalog
	log           *zap.Logger
	db            *gorm.DB
	organizations organizationdomain.Service
	subscriptions subscriptiondomain.Service
	consumption   consumptiondomain.Service
	grants        grantdomain.Service
	usage         usagedomain.Service
	periods       usageperioddomain.Repository
	alerts        alertdomain.Service
	synchronizer  billingsyncdomain.Synchronizer
	billing       billing.Provider
}

func NewServer(p ServerParams) *Server {
	return &Server{
		cfg:           p.Config,
		catalog:       p.Catalog,
		log:           p.Log.Named("server"),
		db:            p.DB,
		organizations: p.Organizations,
		subscriptions: p.Subscriptions,
		consumption:   p.Consumption,
		grants:        p.Grants,
		usage:         p.Usage,
		periods:       p.Periods,
		alerts:        p.Alerts,
		synchronizer:  p.Synchronizer,
		billing:       p.Billing,
	}
}

// NewEngine builds the HTTP engine and mounts every route.
func NewEngine(s *Server, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// Inbound webhook authenticates with the provider signature, not a
	// tenant header.
	v1.POST("/billing/webhook", s.HandleBillingWebhook)

	v1.POST("/organizations", s.CreateOrganization)
	v1.GET("/billing/catalog", s.GetCatalog)

	org := v1.Group("")
	org.Use(OrgContext())
	{
		org.GET("/organizations/me", s.GetOrganization)

		org.POST("/credits/consume", s.Consume)
		org.GET("/credits/balance", s.GetBalance)
		org.GET("/credits/grants", s.ListGrants)
		org.GET("/credits/usage", s.ListUsage)

		org.GET("/subscriptions", s.ListSubscriptions)
		org.GET("/subscriptions/:id", s.GetSubscription)
		org.PUT("/subscriptions/:id/overage", s.UpdateOverageSettings)
		org.GET("/subscriptions/:id/periods", s.ListUsagePeriods)
		org.GET("/subscriptions/:id/alert-settings", s.GetAlertSettings)
		org.PUT("/subscriptions/:id/alert-settings", s.UpsertAlertSettings)

		org.GET("/alerts", s.ListAlerts)

		org.POST("/billing/checkout-sessions", s.CreateCheckoutSession)
		org.POST("/billing/portal-sessions", s.CreatePortalSession)
	}

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Provide(NewEngine),
	fx.Invoke(run),
)
