package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/andinasoft/dte/internal/authority"
	"github.com/andinasoft/dte/internal/clock"
	"github.com/andinasoft/dte/internal/config"
	"github.com/andinasoft/dte/internal/dispatch"
	"github.com/andinasoft/dte/internal/document"
	"github.com/andinasoft/dte/internal/folio"
	"github.com/andinasoft/dte/internal/migration"
	"github.com/andinasoft/dte/internal/observability"
	"github.com/andinasoft/dte/internal/tax"
	"github.com/andinasoft/dte/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		authority.Module,
		tax.Module,
		folio.Module,
		document.Module,
		dispatch.Module,

		// No server module!
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *dispatch.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
