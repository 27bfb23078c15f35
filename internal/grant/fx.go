package grant

import (
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	"github.com/smallbiznis/kredit/internal/grant/repository"
	"github.com/smallbiznis/kredit/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc grantdomain.Service) grantdomain.TrialIssuer { return svc }),
)
