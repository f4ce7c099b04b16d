package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/andinasoft/dte/internal/config"
	"github.com/andinasoft/dte/internal/dispatch"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	obslogger "github.com/andinasoft/dte/internal/observability/logger"
	"github.com/andinasoft/dte/internal/providers/email"
	"github.com/andinasoft/dte/internal/providers/pdf"
	"github.com/andinasoft/dte/internal/ratelimit"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(cfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	genID     *snowflake.Node
	taxSvc    taxdomain.Service
	folioSvc  foliodomain.Service
	assembler docdomain.Assembler
	scheduler *dispatch.Scheduler
	printer   pdf.Provider
	mailer    email.Provider
	limiter   *ratelimit.EmitLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	GenID     *snowflake.Node
	TaxSvc    taxdomain.Service
	FolioSvc  foliodomain.Service
	Assembler docdomain.Assembler
	Scheduler *dispatch.Scheduler
	Printer   pdf.Provider
	Mailer    email.Provider
	Limiter   *ratelimit.EmitLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		genID:     p.GenID,
		taxSvc:    p.TaxSvc,
		folioSvc:  p.FolioSvc,
		assembler: p.Assembler,
		scheduler: p.Scheduler,
		printer:   p.Printer,
		mailer:    p.Mailer,
		limiter:   p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/taxes", s.CreateTaxDefinition)
	v1.GET("/taxes", s.ListTaxDefinitions)

	v1.POST("/sequences", s.CreateSequence)
	v1.GET("/sequences/:code/available", s.SequenceAvailable)
	v1.POST("/cafs", s.RegisterCAF)

	v1.POST("/documents", s.EmitDocument)
	v1.GET("/documents/:id", s.GetDocument)
	v1.POST("/documents/:id/notes", s.BuildNote)
	v1.POST("/documents/:id/cancel", s.CancelDocument)
	v1.GET("/documents/:id/pdf", s.PrintedCopy)
	v1.POST("/documents/:id/deliver", s.DeliverDocument)
}
