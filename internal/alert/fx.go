package alert

import (
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	"github.com/smallbiznis/kredit/internal/alert/repository"
	"github.com/smallbiznis/kredit/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc alertdomain.Service) alertdomain.Engine { return svc }),
)
