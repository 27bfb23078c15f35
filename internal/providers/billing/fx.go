package billing

import (
	"github.com/smallbiznis/kredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.billing",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.StripeSecretKey == "" {
		log.Named("providers.billing").Warn("stripe not configured, billing provider disabled")
		return NoOpProvider{}
	}
	return NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.MeterEventName, log)
}
