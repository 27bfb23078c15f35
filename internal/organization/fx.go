package organization

import (
	"github.com/smallbiznis/kredit/internal/organization/repository"
	"github.com/smallbiznis/kredit/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
