package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andinasoft/dte/internal/tax/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func vat19(inclusive bool) domain.TaxDefinition {
	return domain.TaxDefinition{
		ID:            1,
		Name:          "IVA 19%",
		AuthorityCode: domain.CodeVAT,
		AmountType:    domain.AmountTypePercent,
		Amount:        d("19"),
		Sequence:      10,
		PriceInclude:  inclusive,
	}
}

func TestComputeInclusiveVAT(t *testing.T) {
	res, err := Compute(LineInput{
		UnitPrice: d("1190"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{vat19(true)},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)

	assert.True(t, res.TotalExcluded.Equal(d("1000")), "excluded = %s", res.TotalExcluded)
	assert.True(t, res.TotalIncluded.Equal(d("1190")), "included = %s", res.TotalIncluded)
	require.Len(t, res.Taxes, 1)
	assert.True(t, res.Taxes[0].Amount.Equal(d("190")), "tax = %s", res.Taxes[0].Amount)
	assert.True(t, res.Taxes[0].Base.Equal(d("1000")))
}

func TestComputeExclusiveVAT(t *testing.T) {
	res, err := Compute(LineInput{
		UnitPrice: d("1000"),
		Quantity:  d("3"),
		Taxes:     []domain.TaxDefinition{vat19(false)},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)

	assert.True(t, res.TotalExcluded.Equal(d("3000")))
	assert.True(t, res.TotalIncluded.Equal(d("3570")))
	assert.True(t, res.Taxes[0].Amount.Equal(d("570")))
}

func TestComputeDiscountApplied(t *testing.T) {
	res, err := Compute(LineInput{
		UnitPrice:       d("1190"),
		Quantity:        d("1"),
		DiscountPercent: d("10"),
		Taxes:           []domain.TaxDefinition{vat19(true)},
		Precision:       0,
		Rounding:        RoundPerLine,
	})
	require.NoError(t, err)
	assert.True(t, res.TotalIncluded.Equal(d("1071")), "included = %s", res.TotalIncluded)
}

func TestComputeRejectsMixedRegime(t *testing.T) {
	baseAffecting := domain.TaxDefinition{
		ID:                2,
		Name:              "Additional",
		AmountType:        domain.AmountTypePercent,
		Amount:            d("10"),
		Sequence:          5,
		IncludeBaseAmount: true,
	}
	_, err := Compute(LineInput{
		UnitPrice: d("100"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{baseAffecting, vat19(true)},
		Precision: 0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTaxMix)
}

func TestComputeGroupExpandsBySequence(t *testing.T) {
	group := domain.TaxDefinition{
		ID:         9,
		Name:       "Group",
		AmountType: domain.AmountTypeGroup,
		Children: []domain.TaxDefinition{
			{ID: 11, Name: "B", AmountType: domain.AmountTypePercent, Amount: d("10"), Sequence: 20},
			{ID: 10, Name: "A", AmountType: domain.AmountTypePercent, Amount: d("19"), Sequence: 10, IncludeBaseAmount: true},
		},
	}
	res, err := Compute(LineInput{
		UnitPrice: d("1000"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{group},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)
	require.Len(t, res.Taxes, 2)
	// A runs first and feeds its amount into B's base.
	assert.Equal(t, int64(10), res.Taxes[0].TaxID)
	assert.True(t, res.Taxes[0].Amount.Equal(d("190")))
	assert.True(t, res.Taxes[1].Base.Equal(d("1190")))
	assert.True(t, res.Taxes[1].Amount.Equal(d("119")))
}

func TestComputeRetentionReducesIncluded(t *testing.T) {
	honorarios := domain.TaxDefinition{
		ID:            3,
		Name:          "Retención 13.75%",
		AuthorityCode: domain.CodeVATRetained,
		AmountType:    domain.AmountTypePercent,
		Amount:        d("13.75"),
		RetentionRate: d("13.75"),
		Sequence:      10,
	}
	res, err := Compute(LineInput{
		UnitPrice: d("100000"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{honorarios},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)

	// Fully retained: the payer remits only the base.
	assert.True(t, res.Taxes[0].Amount.Equal(d("13750")))
	assert.True(t, res.Taxes[0].Retention.Equal(d("13750")))
	assert.True(t, res.TotalIncluded.Equal(d("100000")), "included = %s", res.TotalIncluded)
	assert.True(t, res.TotalRetained.Equal(d("13750")))
}

func TestComputePartialRetention(t *testing.T) {
	partial := domain.TaxDefinition{
		ID:            4,
		Name:          "Anticipo parcial",
		AmountType:    domain.AmountTypePercent,
		Amount:        d("19"),
		RetentionRate: d("10"),
		Sequence:      10,
	}
	res, err := Compute(LineInput{
		UnitPrice: d("1000"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{partial},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)
	assert.True(t, res.Taxes[0].Amount.Equal(d("190")))
	assert.True(t, res.Taxes[0].Retention.Equal(d("100")))
	// 1000 + 190 - 100 retained.
	assert.True(t, res.TotalIncluded.Equal(d("1090")))
}

func TestComputeDivisionTax(t *testing.T) {
	div := domain.TaxDefinition{
		ID:         5,
		Name:       "Division 10%",
		AmountType: domain.AmountTypeDivision,
		Amount:     d("10"),
		Sequence:   10,
	}
	res, err := Compute(LineInput{
		UnitPrice: d("900"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{div},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)
	// 900 grossed up at 10% of the included figure: 900/(1-0.10)=1000.
	assert.True(t, res.Taxes[0].Amount.Equal(d("100")))
	assert.True(t, res.TotalIncluded.Equal(d("1000")))
}

func TestComputeNegativeAmountKeepsSign(t *testing.T) {
	res, err := Compute(LineInput{
		UnitPrice: d("-1190"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{vat19(true)},
		Precision: 0,
		Rounding:  RoundPerLine,
	})
	require.NoError(t, err)
	assert.True(t, res.TotalExcluded.Equal(d("-1000")))
	assert.True(t, res.TotalIncluded.Equal(d("-1190")))
	assert.True(t, res.Taxes[0].Amount.Equal(d("-190")))
}

func TestComputeZeroAmountForceSign(t *testing.T) {
	res, err := Compute(LineInput{
		UnitPrice: d("0"),
		Quantity:  d("1"),
		Taxes:     []domain.TaxDefinition{vat19(true)},
		Precision: 0,
		Rounding:  RoundPerLine,
		ForceSign: -1,
	})
	require.NoError(t, err)
	assert.True(t, res.TotalIncluded.IsZero())
}

func TestInclusivePercentIdentity(t *testing.T) {
	// totalExcluded × (1 + Σrates) must land within one currency unit
	// of totalIncluded for percent-only inclusive tax sets.
	prices := []string{"1190", "999", "123456", "17", "1"}
	for _, p := range prices {
		res, err := Compute(LineInput{
			UnitPrice: d(p),
			Quantity:  d("1"),
			Taxes:     []domain.TaxDefinition{vat19(true)},
			Precision: 0,
			Rounding:  RoundPerLine,
		})
		require.NoError(t, err)
		reconstructed := res.TotalExcluded.Mul(d("1.19"))
		diff := reconstructed.Sub(res.TotalIncluded).Abs()
		assert.True(t, diff.LessThanOrEqual(d("1")), "price %s: diff %s", p, diff)
	}
}

func TestAmountInvariant(t *testing.T) {
	// Σ amount(non-retention) == totalIncluded − totalExcluded, exactly.
	cases := []LineInput{
		{UnitPrice: d("1190"), Quantity: d("1"), Taxes: []domain.TaxDefinition{vat19(true)}, Precision: 0, Rounding: RoundPerLine},
		{UnitPrice: d("333.33"), Quantity: d("3"), Taxes: []domain.TaxDefinition{vat19(false)}, Precision: 2, Rounding: RoundPerLine},
		{UnitPrice: d("17.77"), Quantity: d("7"), Taxes: []domain.TaxDefinition{vat19(true)}, Precision: 2, Rounding: RoundPerLine},
	}
	for _, in := range cases {
		res, err := Compute(in)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, tr := range res.Taxes {
			if tr.Retention.IsZero() {
				sum = sum.Add(tr.Amount)
			}
		}
		assert.True(t, sum.Equal(res.TotalIncluded.Sub(res.TotalExcluded)),
			"sum %s vs diff %s", sum, res.TotalIncluded.Sub(res.TotalExcluded))
	}
}

func TestRepartitionSpreadExact(t *testing.T) {
	factorSets := [][]string{
		{"1"},
		{"0.5", "0.5"},
		{"0.333333", "0.333333", "0.333334"},
		{"0.1", "0.2", "0.3", "0.4"},
		{"0.07", "0.13", "0.8"},
	}
	prices := []string{"1190", "999.99", "123.45", "7.77"}

	for _, factors := range factorSets {
		rep := make([]domain.RepartitionLine, len(factors))
		for i, f := range factors {
			rep[i] = domain.RepartitionLine{Factor: d(f), Sequence: i}
		}
		tax := vat19(false)
		tax.Repartition = rep

		for _, p := range prices {
			res, err := Compute(LineInput{
				UnitPrice: d(p),
				Quantity:  d("1"),
				Taxes:     []domain.TaxDefinition{tax},
				Precision: 2,
				Rounding:  RoundPerLine,
			})
			require.NoError(t, err)

			tr := res.Taxes[0]
			lineSum := decimal.Zero
			for _, l := range tr.RepartitionAmounts {
				lineSum = lineSum.Add(l)
			}
			assert.True(t, lineSum.Equal(tr.Amount),
				"factors %v price %s: lines %s != total %s", factors, p, lineSum, tr.Amount)
			// No line off by more than one minimal unit from its exact share.
			for i, l := range tr.RepartitionAmounts {
				exact := tr.Amount.Div(sumOf(factors)).Mul(d(factors[i]))
				assert.True(t, l.Sub(exact).Abs().LessThanOrEqual(d("0.011")),
					"line %d drifted: %s vs %s", i, l, exact)
			}
		}
	}
}

func sumOf(factors []string) decimal.Decimal {
	total := decimal.Zero
	for _, f := range factors {
		total = total.Add(d(f))
	}
	return total
}

func TestRoundingPoliciesDivergeAcrossLines(t *testing.T) {
	// Summing many lines must differ between per-line and global
	// rounding by design.
	price := d("10.333")
	var perLine, global decimal.Decimal
	for i := 0; i < 100; i++ {
		rp, err := Compute(LineInput{
			UnitPrice: price, Quantity: d("1"),
			Taxes: []domain.TaxDefinition{vat19(false)}, Precision: 2, Rounding: RoundPerLine,
		})
		require.NoError(t, err)
		perLine = perLine.Add(rp.Taxes[0].Amount)

		rg, err := Compute(LineInput{
			UnitPrice: price, Quantity: d("1"),
			Taxes: []domain.TaxDefinition{vat19(false)}, Precision: 2, Rounding: RoundGlobal,
		})
		require.NoError(t, err)
		global = global.Add(rg.Taxes[0].Amount)
	}
	global = global.Round(2)
	assert.False(t, perLine.Equal(global), "per-line %s vs global %s", perLine, global)
}
