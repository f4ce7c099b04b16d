package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AmountType represents how a tax amount is derived from its base.
type AmountType string

const (
	AmountTypePercent  AmountType = "percent"
	AmountTypeFixed    AmountType = "fixed"
	AmountTypeDivision AmountType = "division"
	AmountTypeGroup    AmountType = "group"
)

// Well-known authority tax codes. These are wire constants; do not
// renumber once documents have been emitted with them.
const (
	CodeVAT            = 14 // IVA
	CodeVATRetained    = 15
	CodeAdditionalBase = 17
)

// TaxDefinition is a tax policy applied to document lines.
// Immutable during a computation call; persisted as a catalog entry.
type TaxDefinition struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	CompanyID     snowflake.ID    `gorm:"column:company_id;not null;index"`
	Name          string          `gorm:"type:text;not null"`
	AuthorityCode int             `gorm:"column:authority_code;not null"`
	AmountType    AmountType      `gorm:"column:amount_type;type:text;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,6);not null"`
	Sequence      int             `gorm:"not null;default:0"`

	// PriceInclude marks taxes already folded into the sell price.
	PriceInclude bool `gorm:"column:price_include;not null;default:false"`
	// IncludeBaseAmount feeds this tax's amount into the base of
	// taxes applied after it.
	IncludeBaseAmount bool `gorm:"column:include_base_amount;not null;default:false"`
	// RetentionRate above zero marks a retention tax; the retained
	// portion reduces what the payer remits.
	RetentionRate decimal.Decimal `gorm:"column:retention_rate;type:numeric(12,6);not null;default:0"`

	ParentID    *snowflake.ID     `gorm:"column:parent_id;index"`
	Children    []TaxDefinition   `gorm:"foreignKey:ParentID"`
	Repartition []RepartitionLine `gorm:"foreignKey:TaxID"`

	IsEnabled bool      `gorm:"column:is_enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TaxDefinition) TableName() string { return "tax_definitions" }

// IsRetention reports whether the definition withholds on behalf of the receiver.
func (t TaxDefinition) IsRetention() bool {
	return t.RetentionRate.IsPositive()
}

func (t *TaxDefinition) Validate() error {
	switch t.AmountType {
	case AmountTypePercent, AmountTypeFixed, AmountTypeDivision, AmountTypeGroup:
	default:
		return ErrInvalidAmountType
	}
	if t.AmountType == AmountTypeDivision && t.Amount.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return ErrInvalidRate
	}
	if t.Amount.IsNegative() || t.RetentionRate.IsNegative() {
		return ErrInvalidRate
	}
	return nil
}

// RepartitionLine is a weighted posting target for a tax amount.
type RepartitionLine struct {
	ID       snowflake.ID    `gorm:"primaryKey"`
	TaxID    snowflake.ID    `gorm:"column:tax_id;not null;index"`
	Factor   decimal.Decimal `gorm:"type:numeric(9,6);not null"`
	Account  string          `gorm:"type:text"`
	Sequence int             `gorm:"not null;default:0"`
}

func (RepartitionLine) TableName() string { return "tax_repartition_lines" }
