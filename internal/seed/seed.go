package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

// EnsureStandardTaxes seeds the common Chilean tax catalog for one
// company so a fresh install can emit documents right away. Existing
// definitions are left untouched.
func EnsureStandardTaxes(db *gorm.DB, companyID snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if companyID == 0 {
		return errors.New("seed company id is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	catalog := []taxdomain.TaxDefinition{
		{
			Name:          "IVA 19%",
			AuthorityCode: taxdomain.CodeVAT,
			AmountType:    taxdomain.AmountTypePercent,
			Amount:        decimal.NewFromInt(19),
			PriceInclude:  true,
		},
		{
			Name:          "IVA Retenido 19%",
			AuthorityCode: taxdomain.CodeVATRetained,
			AmountType:    taxdomain.AmountTypePercent,
			Amount:        decimal.NewFromInt(19),
			RetentionRate: decimal.NewFromInt(100),
		},
		{
			Name:          "ILA Bebidas Analcohólicas 10%",
			AuthorityCode: 27,
			AmountType:    taxdomain.AmountTypePercent,
			Amount:        decimal.NewFromInt(10),
		},
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, def := range catalog {
			var existing taxdomain.TaxDefinition
			err := tx.WithContext(ctx).
				Where("company_id = ? AND authority_code = ? AND name = ?", companyID, def.AuthorityCode, def.Name).
				First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			now := time.Now().UTC()
			def.ID = node.Generate()
			def.CompanyID = companyID
			def.IsEnabled = true
			def.CreatedAt = now
			def.UpdatedAt = now
			if err := tx.WithContext(ctx).Create(&def).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
