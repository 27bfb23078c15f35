package usageperiod

import (
	"github.com/smallbiznis/kredit/internal/usageperiod/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("usageperiod",
	fx.Provide(repository.Provide),
)
