package folio

import (
	"go.uber.org/fx"

	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	"github.com/andinasoft/dte/internal/folio/repository"
	"github.com/andinasoft/dte/internal/folio/service"
)

var Module = fx.Module("folio.service",
	fx.Provide(
		repository.NewRepository,
		service.NewService,
		func(s foliodomain.Service) foliodomain.Allocator { return s },
	),
)
