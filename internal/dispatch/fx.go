package dispatch

import (
	"go.uber.org/fx"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

var Module = fx.Module("dispatch",
	fx.Provide(
		NewQueue,
		New,
		func(q *Queue) docdomain.Enqueuer { return q },
	),
)
