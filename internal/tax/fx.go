package tax

import (
	"go.uber.org/fx"

	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
	"github.com/andinasoft/dte/internal/tax/repository"
	"github.com/andinasoft/dte/internal/tax/service"
)

var Module = fx.Module("tax.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
		func(s taxdomain.Service) taxdomain.Resolver { return s },
	),
)
