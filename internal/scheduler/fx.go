package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/kredit/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Run),
)

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if cfg.ReporterIntervalSeconds > 0 {
		out.ReporterInterval = time.Duration(cfg.ReporterIntervalSeconds) * time.Second
	}
	if cfg.ExpirySweepIntervalSeconds > 0 {
		out.SweepInterval = time.Duration(cfg.ExpirySweepIntervalSeconds) * time.Second
	}
	return out
}

func Run(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
