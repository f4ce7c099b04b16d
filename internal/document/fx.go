package document

import (
	"go.uber.org/fx"

	"github.com/andinasoft/dte/internal/document/repository"
	"github.com/andinasoft/dte/internal/document/service"
)

var Module = fx.Module("document.service",
	fx.Provide(
		repository.NewRepository,
		service.NewAssembler,
	),
)
