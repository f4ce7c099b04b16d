package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Allocator issues folio numbers from authorized ranges.
type Allocator interface {
	// SequenceByClass resolves the sequence feeding one document class.
	SequenceByClass(ctx context.Context, companyID snowflake.ID, classCode int) (*Sequence, error)
	// NextFolio atomically increments the sequence counter and returns
	// the issued folio. The increment and the covering-CAF check run
	// under one row lock.
	NextFolio(ctx context.Context, sequenceID snowflake.ID) (int64, error)
	// Available sums remaining folios across CAFs at or beyond the
	// given folio; folio <= 0 means the counter's current position.
	Available(ctx context.Context, sequenceID snowflake.ID, folio int64) (int64, error)
	// CAFFor returns the authorization covering the folio.
	CAFFor(ctx context.Context, sequenceID snowflake.ID, folio int64) (*CAF, error)
	// Realign forces the counter forward to the lowest usable CAF
	// start when it has fallen below every authorized range. Never
	// moves backward.
	Realign(ctx context.Context, sequenceID snowflake.ID) error
}

type Service interface {
	Allocator
	CreateSequence(ctx context.Context, seq *Sequence) (*Sequence, error)
	// RegisterCAF validates and stores an uploaded authorization file
	// against the owning sequence.
	RegisterCAF(ctx context.Context, sequenceID snowflake.ID, raw []byte) (*CAF, error)
	// CheckReplenishment requests folio batches for sequences whose
	// availability fell under their low watermark.
	CheckReplenishment(ctx context.Context) error
}
