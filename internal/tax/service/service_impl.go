package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

type service struct {
	repo  taxdomain.Repository
	genID *snowflake.Node
	log   *zap.Logger
}

func NewService(repo taxdomain.Repository, genID *snowflake.Node, log *zap.Logger) taxdomain.Service {
	return &service{repo: repo, genID: genID, log: log.Named("tax")}
}

func (s *service) Create(ctx context.Context, def *taxdomain.TaxDefinition) (*taxdomain.TaxDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.ID == 0 {
		def.ID = s.genID.Generate()
	}
	for i := range def.Children {
		child := &def.Children[i]
		if err := child.Validate(); err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		if child.ID == 0 {
			child.ID = s.genID.Generate()
		}
	}
	if err := s.repo.Create(ctx, def); err != nil {
		return nil, err
	}
	s.log.Info("tax definition created",
		zap.Int64("id", int64(def.ID)),
		zap.Int("authority_code", def.AuthorityCode),
	)
	return def, nil
}

func (s *service) Resolve(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]taxdomain.TaxDefinition, error) {
	defs, err := s.repo.FindByIDs(ctx, companyID, ids)
	if err != nil {
		return nil, err
	}
	if len(defs) != len(ids) {
		return nil, fmt.Errorf("resolve taxes: %w", taxdomain.ErrNotFound)
	}
	return defs, nil
}

func (s *service) List(ctx context.Context, companyID snowflake.ID) ([]taxdomain.TaxDefinition, error) {
	return s.repo.List(ctx, companyID)
}

func (s *service) Disable(ctx context.Context, companyID, id snowflake.ID) error {
	def, err := s.repo.FindByID(ctx, companyID, id)
	if err != nil {
		return err
	}
	def.IsEnabled = false
	return s.repo.Update(ctx, def)
}
