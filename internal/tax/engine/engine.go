// Package engine computes per-tax amounts for a priced document line.
// It is a pure function of its input; no I/O, no persisted state.
package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/andinasoft/dte/internal/tax/domain"
)

// RoundingPolicy selects when currency rounding happens.
type RoundingPolicy string

const (
	// RoundPerLine rounds every intermediate tax amount at currency
	// precision. Summing many lines can drift from the globally
	// rounded figure; both behaviors are legitimate and the caller
	// picks one.
	RoundPerLine RoundingPolicy = "per_line"
	// RoundGlobal carries extra precision through intermediate math
	// and rounds only final sums.
	RoundGlobal RoundingPolicy = "global"
)

// extraDigits is the additional precision carried by RoundGlobal
// before final sums are rounded.
const extraDigits = 5

// LineInput is one priced line to compute taxes for.
type LineInput struct {
	UnitPrice       decimal.Decimal
	Quantity        decimal.Decimal
	DiscountPercent decimal.Decimal
	Taxes           []domain.TaxDefinition
	// Precision is the currency's decimal places (0 for CLP).
	Precision int32
	Rounding  RoundingPolicy
	// ForceSign pins the output sign when the amount is zero and the
	// direction would otherwise be ambiguous (credit note lines).
	ForceSign int
}

// TaxResult is the computed outcome for one tax on one line.
type TaxResult struct {
	TaxID         int64
	Name          string
	AuthorityCode int
	Sequence      int
	Amount        decimal.Decimal
	Retention     decimal.Decimal
	Base          decimal.Decimal
	PriceInclude  bool
	// RepartitionAmounts sum exactly to the rounded tax total.
	RepartitionAmounts []decimal.Decimal
}

// ComputeResult aggregates a full line computation.
type ComputeResult struct {
	Taxes         []TaxResult
	TotalExcluded decimal.Decimal
	TotalIncluded decimal.Decimal
	// TotalRetained is the sum withheld across retention taxes.
	TotalRetained decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Compute derives per-tax amounts plus included/excluded totals for a
// line. Taxes marked price-inclusive are backed out of the given price
// first so the authority receives the exclusive base broken out per tax.
func Compute(in LineInput) (ComputeResult, error) {
	if in.Precision < 0 {
		return ComputeResult{}, domain.ErrInvalidPrecision
	}
	taxes := flatten(in.Taxes)
	if err := checkRegime(taxes); err != nil {
		return ComputeResult{}, err
	}

	workPrec := in.Precision
	if in.Rounding == RoundGlobal {
		workPrec = in.Precision + extraDigits
	}

	// Gross line amount at currency precision, discount applied.
	gross := in.UnitPrice.Mul(in.Quantity).Round(in.Precision + 2).Round(in.Precision)
	discount := gross.Mul(in.DiscountPercent).Div(hundred).Round(in.Precision)
	gross = gross.Sub(discount)

	sign := decimal.NewFromInt(1)
	switch {
	case gross.IsNegative():
		sign = decimal.NewFromInt(-1)
		gross = gross.Neg()
	case gross.IsZero() && in.ForceSign < 0:
		sign = decimal.NewFromInt(-1)
	}
	quantity := in.Quantity.Abs()

	// Reverse pass: recover the tax-exclusive base from the
	// tax-inclusive sell price.
	excludedBase := backOutIncluded(gross, quantity, taxes)

	res := ComputeResult{}
	base := excludedBase
	includedSum := decimal.Zero // inclusive tax amounts backed out of gross
	addedSum := decimal.Zero    // exclusive tax amounts stacked on top
	retainedSum := decimal.Zero

	for _, tax := range taxes {
		raw := amountFor(tax, base, quantity)
		factors := repartitionFactors(tax)
		total, lines := spreadRounding(raw, factors, workPrec)

		retention := decimal.Zero
		if tax.IsRetention() {
			retention = retentionFor(tax, base, total).Round(workPrec)
		}

		if tax.PriceInclude {
			includedSum = includedSum.Add(total)
		} else {
			addedSum = addedSum.Add(total)
		}
		retainedSum = retainedSum.Add(retention)

		taxBase := base
		if tax.IncludeBaseAmount {
			base = base.Add(total)
		}

		res.Taxes = append(res.Taxes, TaxResult{
			TaxID:              int64(tax.ID),
			Name:               tax.Name,
			AuthorityCode:      tax.AuthorityCode,
			Sequence:           tax.Sequence,
			Amount:             total.Mul(sign),
			Retention:          retention.Mul(sign),
			Base:               taxBase.Round(in.Precision).Mul(sign),
			PriceInclude:       tax.PriceInclude,
			RepartitionAmounts: scale(lines, sign),
		})
	}

	// The excluded total absorbs rounding residue from the back-out so
	// that sum(amounts) == included - excluded holds exactly.
	totalExcluded := gross.Sub(includedSum).Round(in.Precision)
	totalIncluded := totalExcluded.Add(includedSum).Add(addedSum).Sub(retainedSum).Round(in.Precision)

	res.TotalExcluded = totalExcluded.Mul(sign)
	res.TotalIncluded = totalIncluded.Mul(sign)
	res.TotalRetained = retainedSum.Round(in.Precision).Mul(sign)
	return res, nil
}

// flatten expands grouped taxes into their children and orders the
// result by application sequence.
func flatten(taxes []domain.TaxDefinition) []domain.TaxDefinition {
	out := make([]domain.TaxDefinition, 0, len(taxes))
	for _, t := range taxes {
		if t.AmountType == domain.AmountTypeGroup {
			out = append(out, flatten(t.Children)...)
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// checkRegime rejects lines mixing a price-exclusive tax that alters the
// running base with a price-inclusive tax. The combination has no
// consistent back-out order and is a caller error.
func checkRegime(taxes []domain.TaxDefinition) error {
	anyIncluded := false
	anyExcludedBaseAffecting := false
	for _, t := range taxes {
		if t.PriceInclude {
			anyIncluded = true
		} else if t.IncludeBaseAmount {
			anyExcludedBaseAffecting = true
		}
	}
	if anyIncluded && anyExcludedBaseAffecting {
		return domain.ErrInvalidTaxMix
	}
	return nil
}

// backOutIncluded solves for the tax-exclusive base given a gross price
// that already contains the price-inclusive taxes. Taxes are walked in
// reverse application order; an include-base boundary flushes the
// accumulated contributions before continuing.
func backOutIncluded(gross, quantity decimal.Decimal, taxes []domain.TaxDefinition) decimal.Decimal {
	base := gross
	accFixed := decimal.Zero
	accPercent := decimal.Zero
	accDivision := decimal.Zero

	flush := func() {
		base = base.Sub(accFixed).
			Div(one.Add(accPercent.Div(hundred))).
			Mul(hundred.Sub(accDivision)).Div(hundred)
		accFixed = decimal.Zero
		accPercent = decimal.Zero
		accDivision = decimal.Zero
	}

	for i := len(taxes) - 1; i >= 0; i-- {
		t := taxes[i]
		if !t.PriceInclude {
			continue
		}
		if t.IncludeBaseAmount {
			flush()
		}
		switch t.AmountType {
		case domain.AmountTypePercent:
			accPercent = accPercent.Add(t.Amount)
		case domain.AmountTypeDivision:
			accDivision = accDivision.Add(t.Amount)
		case domain.AmountTypeFixed:
			accFixed = accFixed.Add(t.Amount.Mul(quantity))
		}
	}
	flush()
	return base
}

// amountFor computes the raw, unrounded tax amount from the exclusive base.
func amountFor(tax domain.TaxDefinition, base, quantity decimal.Decimal) decimal.Decimal {
	switch tax.AmountType {
	case domain.AmountTypePercent:
		return base.Mul(tax.Amount).Div(hundred)
	case domain.AmountTypeFixed:
		return tax.Amount.Mul(quantity)
	case domain.AmountTypeDivision:
		// Gross-up: the rate applies to the tax-included figure.
		return base.Div(one.Sub(tax.Amount.Div(hundred))).Sub(base)
	default:
		return decimal.Zero
	}
}

// retentionFor computes the withheld portion of a retention tax.
func retentionFor(tax domain.TaxDefinition, base, taxAmount decimal.Decimal) decimal.Decimal {
	if tax.AmountType == domain.AmountTypePercent && tax.PriceInclude {
		neto := base.Div(one.Add(tax.RetentionRate.Div(hundred)))
		return base.Sub(neto)
	}
	ret := base.Mul(tax.RetentionRate).Div(hundred)
	if ret.GreaterThan(taxAmount) {
		return taxAmount
	}
	return ret
}

// repartitionFactors returns the posting weights for a tax, defaulting
// to a single full-weight line.
func repartitionFactors(tax domain.TaxDefinition) []decimal.Decimal {
	if len(tax.Repartition) == 0 {
		return []decimal.Decimal{one}
	}
	factors := make([]decimal.Decimal, len(tax.Repartition))
	for i, r := range tax.Repartition {
		factors[i] = r.Factor
	}
	return factors
}

// spreadRounding rounds each weighted repartition line independently and
// then walks the residual back onto the lines one currency unit step at
// a time, so the line sum equals the rounded total exactly and no line
// is off by more than one minimal unit.
func spreadRounding(raw decimal.Decimal, factors []decimal.Decimal, prec int32) (decimal.Decimal, []decimal.Decimal) {
	factorSum := decimal.Zero
	for _, f := range factors {
		factorSum = factorSum.Add(f)
	}
	total := raw.Mul(factorSum).Round(prec)

	lines := make([]decimal.Decimal, len(factors))
	remainders := make([]decimal.Decimal, len(factors))
	lineSum := decimal.Zero
	for i, f := range factors {
		exact := raw.Mul(f)
		lines[i] = exact.Round(prec)
		remainders[i] = exact.Sub(lines[i])
		lineSum = lineSum.Add(lines[i])
	}

	step := decimal.New(1, -prec)
	residual := total.Sub(lineSum)
	if residual.IsNegative() {
		step = step.Neg()
	}

	// Largest remainder first, in the direction of the residual.
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if residual.IsNegative() {
			return remainders[order[a]].LessThan(remainders[order[b]])
		}
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})

	for i := 0; !residual.IsZero() && len(lines) > 0; i++ {
		idx := order[i%len(order)]
		lines[idx] = lines[idx].Add(step)
		residual = residual.Sub(step)
	}
	return total, lines
}

func scale(values []decimal.Decimal, sign decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = v.Mul(sign)
	}
	return out
}
