package migration

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/andinasoft/dte/internal/config"
	"github.com/andinasoft/dte/internal/dispatch"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	"github.com/andinasoft/dte/internal/seed"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// SQL migrations are written for postgres. Other dialects
		// (sqlite in local dev, mysql) fall back to gorm's migrator.
		if conn.Dialector.Name() != "postgres" {
			err := conn.AutoMigrate(
				&taxdomain.TaxDefinition{},
				&taxdomain.RepartitionLine{},
				&foliodomain.Sequence{},
				&foliodomain.CAF{},
				&docdomain.AssembledDocument{},
				&dispatch.SendJob{},
				&dispatch.DispatchEnvelope{},
			)
			if err != nil {
				return err
			}
		} else {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		if cfg.DefaultCompanyID != 0 {
			return seed.EnsureStandardTaxes(conn, snowflake.ID(cfg.DefaultCompanyID))
		}
		return nil
	}),
)
