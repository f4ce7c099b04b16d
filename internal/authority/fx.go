package authority

import (
	"go.uber.org/fx"

	"github.com/andinasoft/dte/internal/authority/client"
	"github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/config"
)

var Module = fx.Module("authority",
	fx.Provide(
		client.New,
		provideCertificate,
	),
)

func provideCertificate(cfg config.Config) domain.Certificate {
	return domain.Certificate{
		Subject: cfg.CertSubject,
		KeyRef:  cfg.CertKeyRef,
	}
}
