package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
	"github.com/andinasoft/dte/internal/tax/engine"
)

type assembler struct {
	repo     docdomain.Repository
	taxes    taxdomain.Resolver
	folios   foliodomain.Allocator
	signer   authoritydomain.SigningClient
	cert     authoritydomain.Certificate
	enqueuer docdomain.Enqueuer
	genID    *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
}

func NewAssembler(
	repo docdomain.Repository,
	taxes taxdomain.Resolver,
	folios foliodomain.Allocator,
	signer authoritydomain.SigningClient,
	cert authoritydomain.Certificate,
	enqueuer docdomain.Enqueuer,
	genID *snowflake.Node,
	clk clock.Clock,
	log *zap.Logger,
) docdomain.Assembler {
	return &assembler{
		repo:     repo,
		taxes:    taxes,
		folios:   folios,
		signer:   signer,
		cert:     cert,
		enqueuer: enqueuer,
		genID:    genID,
		clock:    clk,
		log:      log.Named("assembler"),
	}
}

// totals is the aggregated money state of one assembly.
type totals struct {
	Net      decimal.Decimal
	Exempt   decimal.Decimal
	VAT      decimal.Decimal
	VATRate  decimal.Decimal
	Other    []otherTax
	Retained decimal.Decimal
	Total    decimal.Decimal
	// LineAmounts holds MontoItem per input line, indexed in input order.
	LineAmounts []decimal.Decimal
}

type otherTax struct {
	Code   int
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

func (a *assembler) Assemble(ctx context.Context, tx docdomain.Transaction, opts docdomain.AssemblyOptions) (*docdomain.AssembledDocument, error) {
	class, err := docdomain.ClassByCode(tx.DocumentClassCode)
	if err != nil {
		return nil, err
	}
	if opts.Rounding == "" {
		opts.Rounding = engine.RoundGlobal
	}
	if tx.CurrencyRate.IsZero() {
		tx.CurrencyRate = decimal.NewFromInt(1)
	}
	tx.Lines = orderedLines(tx.Lines)

	defs, err := a.resolveLineTaxes(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := validateContent(class, tx, defs); err != nil {
		return nil, err
	}
	tot, err := a.computeTotals(class, tx, defs, opts.Rounding)
	if err != nil {
		return nil, err
	}
	tot, err = applyAdjustments(tot, tx.Adjustments, int32(tx.CurrencyPrecision))
	if err != nil {
		return nil, err
	}
	tot.Total = tot.Net.Add(tot.Exempt).Add(tot.VAT).Sub(tot.Retained)
	for _, o := range tot.Other {
		tot.Total = tot.Total.Add(o.Amount)
	}

	// Every synchronous check has passed. Only now is a folio spent.
	seq, err := a.folios.SequenceByClass(ctx, tx.CompanyID, class.Code)
	if err != nil {
		return nil, fmt.Errorf("sequence for class %d: %w", class.Code, err)
	}
	folio, err := a.folios.NextFolio(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	payload := renderPayload(class, tx, tot, folio)
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	caf, err := a.folios.CAFFor(ctx, seq.ID, folio)
	if err != nil {
		return nil, err
	}
	signed, err := a.signer.Sign(ctx, raw, caf.RawPayload, a.cert)
	if err != nil {
		return nil, fmt.Errorf("sign folio %d: %w", folio, err)
	}

	source, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	doc := &docdomain.AssembledDocument{
		ID:                a.genID.Generate(),
		CompanyID:         tx.CompanyID,
		DocumentClassCode: class.Code,
		Folio:             folio,
		IssueDate:         tx.IssueDate,
		ReceiverTaxID:     tx.Receiver.TaxID,
		Currency:          tx.Currency,
		NetAmount:         tot.Net,
		ExemptAmount:      tot.Exempt,
		TaxAmount:         tot.VAT,
		RetainedTax:       tot.Retained,
		TotalAmount:       tot.Total,
		Payload:           raw,
		SignedXML:         signed.XML,
		Stamp:             signed.Stamp,
		Source:            source,
		State:             docdomain.StateNotSent,
	}
	if err := a.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	if !opts.SkipEnqueue {
		if err := a.enqueuer.EnqueuePassive(ctx, doc); err != nil {
			return nil, err
		}
		doc.State = docdomain.StateQueued
		if err := a.repo.UpdateState(ctx, doc.ID, docdomain.StateQueued, ""); err != nil {
			return nil, err
		}
	}

	a.log.Info("document assembled",
		zap.Int("document_class", class.Code),
		zap.Int64("folio", folio),
		zap.String("total", tot.Total.String()),
	)
	return doc, nil
}

func (a *assembler) Get(ctx context.Context, id snowflake.ID) (*docdomain.AssembledDocument, error) {
	return a.repo.FindByID(ctx, id)
}

// resolveLineTaxes loads every tax definition referenced by the
// transaction, keyed by ID.
func (a *assembler) resolveLineTaxes(ctx context.Context, tx docdomain.Transaction) (map[snowflake.ID]taxdomain.TaxDefinition, error) {
	seen := map[snowflake.ID]bool{}
	var ids []snowflake.ID
	for _, line := range tx.Lines {
		for _, id := range line.TaxIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	defs := make(map[snowflake.ID]taxdomain.TaxDefinition, len(ids))
	if len(ids) == 0 {
		return defs, nil
	}
	resolved, err := a.taxes.Resolve(ctx, tx.CompanyID, ids)
	if err != nil {
		return nil, err
	}
	for _, def := range resolved {
		defs[def.ID] = def
	}
	return defs, nil
}

// orderedLines sorts detail lines by their explicit sequence. Lines
// without one are assigned sequences past the highest explicit value,
// in input order, so a default never shadows a caller-chosen position.
func orderedLines(lines []docdomain.Line) []docdomain.Line {
	out := make([]docdomain.Line, len(lines))
	copy(out, lines)
	max := 0
	for i := range out {
		if out[i].Sequence > max {
			max = out[i].Sequence
		}
	}
	for i := range out {
		if out[i].Sequence == 0 {
			max++
			out[i].Sequence = max
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func validateContent(class docdomain.DocumentClass, tx docdomain.Transaction, defs map[snowflake.ID]taxdomain.TaxDefinition) error {
	billable := 0
	taxed := 0
	for _, line := range tx.Lines {
		if line.NoProduct {
			continue
		}
		billable++
		if !line.Exempt && len(line.TaxIDs) > 0 {
			taxed++
		}
	}
	// Notes may consist of a single informational line (text fixes).
	if billable == 0 && !(class.IsNote && len(tx.Lines) > 0) {
		return fmt.Errorf("%w: no billable lines", docdomain.ErrDocumentClassMismatch)
	}
	if class.IsExempt && taxed > 0 {
		return fmt.Errorf("%w: exempt class %d with taxed lines", docdomain.ErrDocumentClassMismatch, class.Code)
	}
	if billable > 0 && !class.IsExempt && taxed == 0 {
		return fmt.Errorf("%w: class %d requires at least one taxed line", docdomain.ErrDocumentClassMismatch, class.Code)
	}
	if class.RequiresReference && len(tx.References) == 0 {
		return fmt.Errorf("%w: class %d", docdomain.ErrMissingReference, class.Code)
	}
	if !class.AllowsAnonymousReceiver {
		if tx.Receiver.TaxID == "" || tx.Receiver.Address == "" {
			return fmt.Errorf("%w: class %d needs identified receiver", docdomain.ErrInvalidReceiver, class.Code)
		}
	}
	return nil
}

func (a *assembler) computeTotals(class docdomain.DocumentClass, tx docdomain.Transaction, defs map[snowflake.ID]taxdomain.TaxDefinition, rounding engine.RoundingPolicy) (totals, error) {
	prec := int32(tx.CurrencyPrecision)
	tot := totals{
		Net:         decimal.Zero,
		Exempt:      decimal.Zero,
		VAT:         decimal.Zero,
		Retained:    decimal.Zero,
		LineAmounts: make([]decimal.Decimal, len(tx.Lines)),
	}
	other := map[int]*otherTax{}

	// Note classes carry positive amounts; the class code itself
	// signals the direction, so no sign forcing happens here.
	for i, line := range tx.Lines {
		if line.NoProduct {
			tot.LineAmounts[i] = decimal.Zero
			continue
		}
		lineTaxes := make([]taxdomain.TaxDefinition, 0, len(line.TaxIDs))
		for _, id := range line.TaxIDs {
			def, ok := defs[id]
			if !ok {
				return totals{}, fmt.Errorf("%w: tax %d", taxdomain.ErrNotFound, id)
			}
			lineTaxes = append(lineTaxes, def)
		}

		res, err := engine.Compute(engine.LineInput{
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			DiscountPercent: line.DiscountPercent,
			Taxes:           lineTaxes,
			Precision:       prec,
			Rounding:        rounding,
		})
		if err != nil {
			return totals{}, err
		}

		if line.Exempt || len(lineTaxes) == 0 {
			tot.Exempt = tot.Exempt.Add(res.TotalExcluded)
		} else {
			tot.Net = tot.Net.Add(res.TotalExcluded)
		}
		tot.LineAmounts[i] = res.TotalExcluded
		if tx.GrossPrices {
			tot.LineAmounts[i] = res.TotalIncluded
		}
		tot.Retained = tot.Retained.Add(res.TotalRetained)

		for _, tr := range res.Taxes {
			def := defByID(lineTaxes, tr.TaxID)
			switch {
			case tr.AuthorityCode == taxdomain.CodeVAT || tr.AuthorityCode == taxdomain.CodeVATRetained:
				tot.VAT = tot.VAT.Add(tr.Amount)
				if def != nil {
					tot.VATRate = def.Amount
				}
			default:
				o, ok := other[tr.AuthorityCode]
				if !ok {
					o = &otherTax{Code: tr.AuthorityCode}
					if def != nil {
						o.Rate = def.Amount
					}
					other[tr.AuthorityCode] = o
				}
				o.Amount = o.Amount.Add(tr.Amount)
			}
		}
	}

	for _, o := range other {
		tot.Other = append(tot.Other, *o)
	}
	sortOtherTaxes(tot.Other)

	tot.Net = tot.Net.Round(prec)
	tot.Exempt = tot.Exempt.Round(prec)
	tot.VAT = tot.VAT.Round(prec)
	tot.Retained = tot.Retained.Round(prec)
	for i := range tot.Other {
		tot.Other[i].Amount = tot.Other[i].Amount.Round(prec)
	}
	return tot, nil
}

func defByID(defs []taxdomain.TaxDefinition, id int64) *taxdomain.TaxDefinition {
	for i := range defs {
		if int64(defs[i].ID) == id {
			return &defs[i]
		}
		for j := range defs[i].Children {
			if int64(defs[i].Children[j].ID) == id {
				return &defs[i].Children[j]
			}
		}
	}
	return nil
}

func sortOtherTaxes(taxes []otherTax) {
	for i := 1; i < len(taxes); i++ {
		for j := i; j > 0 && taxes[j-1].Code > taxes[j].Code; j-- {
			taxes[j-1], taxes[j] = taxes[j], taxes[j-1]
		}
	}
}

// applyAdjustments folds document level discounts and surcharges into
// the taxed and exempt subtotals, scaling tax amounts with the taxed
// base so the authority's arithmetic checks still hold.
func applyAdjustments(tot totals, adjustments []docdomain.GlobalAdjustment, prec int32) (totals, error) {
	if len(adjustments) == 0 {
		return tot, nil
	}
	taxedBefore := tot.Net
	for _, adj := range adjustments {
		if !adj.Value.IsPositive() {
			return totals{}, fmt.Errorf("%w: non-positive value %s", docdomain.ErrInvalidGlobalAdjustment, adj.Value)
		}
		base := tot.Net
		if adj.Scope == docdomain.ScopeExempt {
			base = tot.Exempt
		}
		delta := adj.Value
		if adj.ValueType == docdomain.AdjustmentPercent {
			delta = base.Mul(adj.Value).Div(decimal.NewFromInt(100)).Round(prec)
		}
		if adj.Kind == docdomain.AdjustmentDiscount {
			delta = delta.Neg()
		}
		next := base.Add(delta)
		if next.IsNegative() {
			return totals{}, fmt.Errorf("%w: %s base driven negative", docdomain.ErrInvalidGlobalAdjustment, adj.Scope)
		}
		if adj.Scope == docdomain.ScopeExempt {
			tot.Exempt = next
		} else {
			tot.Net = next
		}
	}
	if taxedBefore.IsPositive() && !tot.Net.Equal(taxedBefore) {
		ratio := tot.Net.Div(taxedBefore)
		tot.VAT = tot.VAT.Mul(ratio).Round(prec)
		tot.Retained = tot.Retained.Mul(ratio).Round(prec)
		for i := range tot.Other {
			tot.Other[i].Amount = tot.Other[i].Amount.Mul(ratio).Round(prec)
		}
	}
	return tot, nil
}
