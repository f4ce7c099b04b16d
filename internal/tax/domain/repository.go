package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, def *TaxDefinition) error
	FindByID(ctx context.Context, companyID, id snowflake.ID) (*TaxDefinition, error)
	FindByIDs(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]TaxDefinition, error)
	List(ctx context.Context, companyID snowflake.ID) ([]TaxDefinition, error)
	Update(ctx context.Context, def *TaxDefinition) error
}
