package billingsync

import (
	"github.com/smallbiznis/kredit/internal/billingsync/repository"
	"github.com/smallbiznis/kredit/internal/billingsync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingsync.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
