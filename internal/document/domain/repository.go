package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, doc *AssembledDocument) error
	FindByID(ctx context.Context, id snowflake.ID) (*AssembledDocument, error)
	FindByIDs(ctx context.Context, ids []snowflake.ID) ([]AssembledDocument, error)
	Update(ctx context.Context, doc *AssembledDocument) error
	// UpdateState persists a state transition together with the
	// tracking identifier the authority assigned.
	UpdateState(ctx context.Context, id snowflake.ID, state State, trackingID string) error
	List(ctx context.Context, companyID snowflake.ID, state State, limit int) ([]AssembledDocument, error)
}
