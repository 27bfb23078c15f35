package migration

import (
	"github.com/smallbiznis/kredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// Embedded migrations target postgres. Other dialects manage
		// their own schema (tests build theirs inline).
		if cfg.DBType != "postgres" {
			log.Warn("skipping embedded migrations",
				zap.String("db_type", cfg.DBType),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
