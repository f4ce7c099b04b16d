package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

// noteClassFor maps the requested note kind onto the authority code,
// switching to the export variants when the base document is an export.
func noteClassFor(kind docdomain.Kind, base docdomain.DocumentClass) (docdomain.DocumentClass, error) {
	var code int
	switch kind {
	case docdomain.KindCreditNote:
		code = 61
		if base.IsExport {
			code = 112
		}
	case docdomain.KindDebitNote:
		code = 56
		if base.IsExport {
			code = 111
		}
	default:
		return docdomain.DocumentClass{}, fmt.Errorf("%w: %s is not a note kind", docdomain.ErrUnknownDocumentClass, kind)
	}
	return docdomain.ClassByCode(code)
}

func (a *assembler) BuildNote(ctx context.Context, baseID snowflake.ID, kind docdomain.Kind, reason docdomain.ReferenceReason, description string) (*docdomain.AssembledDocument, error) {
	base, err := a.repo.FindByID(ctx, baseID)
	if err != nil {
		return nil, err
	}
	baseClass, err := base.Class()
	if err != nil {
		return nil, err
	}
	noteClass, err := noteClassFor(kind, baseClass)
	if err != nil {
		return nil, err
	}

	var source docdomain.Transaction
	if err := json.Unmarshal(base.Source, &source); err != nil {
		return nil, fmt.Errorf("decode source of document %d: %w", base.ID, err)
	}

	note := source
	note.DocumentClassCode = noteClass.Code
	note.IssueDate = a.clock.Now()
	note.DueDate = nil
	note.References = []docdomain.Reference{{
		DocumentClassCode: base.DocumentClassCode,
		Folio:             base.Folio,
		Date:              base.IssueDate,
		Reason:            reason,
		Description:       description,
	}}
	note.Adjustments = nil

	if reason == docdomain.ReasonTextFix {
		// A text correction voids nothing; it carries one
		// informational line and zero amounts.
		note.Lines = []docdomain.Line{{
			Sequence:  1,
			Name:      description,
			NoProduct: true,
			Exempt:    source.Lines[0].Exempt,
		}}
	}

	return a.Assemble(ctx, note, docdomain.AssemblyOptions{})
}
