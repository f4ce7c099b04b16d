package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Assembler turns validated transactions into signed, folio-bearing
// documents.
type Assembler interface {
	// Assemble validates the transaction against its document class,
	// allocates a folio only after validation passes, computes taxes,
	// renders and signs the wire payload, and queues dispatch.
	Assemble(ctx context.Context, tx Transaction, opts AssemblyOptions) (*AssembledDocument, error)
	// BuildNote derives a credit or debit note transaction from an
	// assembled document and assembles it.
	BuildNote(ctx context.Context, baseID snowflake.ID, kind Kind, reason ReferenceReason, description string) (*AssembledDocument, error)
	Get(ctx context.Context, id snowflake.ID) (*AssembledDocument, error)
}

// Enqueuer is the dispatch queue port the assembler hands finished
// documents to.
type Enqueuer interface {
	EnqueuePassive(ctx context.Context, doc *AssembledDocument) error
}
