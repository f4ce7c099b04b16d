package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Resolver loads the tax definitions referenced by a document line.
type Resolver interface {
	Resolve(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]TaxDefinition, error)
}

type Service interface {
	Resolver
	Create(ctx context.Context, def *TaxDefinition) (*TaxDefinition, error)
	List(ctx context.Context, companyID snowflake.ID) ([]TaxDefinition, error)
	Disable(ctx context.Context, companyID, id snowflake.ID) error
}
