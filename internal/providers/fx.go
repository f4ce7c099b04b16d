package providers

import (
	"go.uber.org/fx"

	"github.com/andinasoft/dte/internal/providers/email"
	"github.com/andinasoft/dte/internal/providers/pdf"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
