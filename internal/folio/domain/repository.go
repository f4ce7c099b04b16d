package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CreateSequence(ctx context.Context, seq *Sequence) error
	FindSequence(ctx context.Context, id snowflake.ID) (*Sequence, error)
	FindSequenceByClass(ctx context.Context, companyID snowflake.ID, classCode int) (*Sequence, error)
	ListAutoReplenish(ctx context.Context) ([]Sequence, error)

	// LockSequence loads the sequence row under FOR UPDATE inside tx.
	LockSequence(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Sequence, error)
	UpdateSequence(ctx context.Context, tx *gorm.DB, seq *Sequence) error

	CreateCAF(ctx context.Context, caf *CAF) error
	UpdateCAF(ctx context.Context, tx *gorm.DB, caf *CAF) error
	// CAFsFrom returns the CAFs of a sequence whose range ends at or
	// beyond the folio, ordered by start number.
	CAFsFrom(ctx context.Context, tx *gorm.DB, sequenceID snowflake.ID, folio int64) ([]CAF, error)

	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}
