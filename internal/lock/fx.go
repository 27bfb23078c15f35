package lock

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(ProvideRedis),
	fx.Provide(NewLocker),
)

// ProvideRedis returns nil when REDIS_ADDR is unset; the Locker degrades
// to a no-op and processing stays correct on a single replica.
func ProvideRedis(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Named("lock").Info("redis not configured, distributed locking disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
