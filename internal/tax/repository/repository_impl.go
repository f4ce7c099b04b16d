package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, def *taxdomain.TaxDefinition) error {
	return r.db.WithContext(ctx).Create(def).Error
}

func (r *repository) FindByID(ctx context.Context, companyID, id snowflake.ID) (*taxdomain.TaxDefinition, error) {
	var def taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Preload("Children").
		Preload("Children.Repartition").
		Preload("Repartition").
		Where("company_id = ? AND id = ?", companyID, id).
		First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, taxdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *repository) FindByIDs(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) ([]taxdomain.TaxDefinition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var defs []taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Preload("Children").
		Preload("Children.Repartition").
		Preload("Repartition").
		Where("company_id = ? AND id IN ?", companyID, ids).
		Order("sequence ASC, id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repository) List(ctx context.Context, companyID snowflake.ID) ([]taxdomain.TaxDefinition, error) {
	var defs []taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Preload("Repartition").
		Where("company_id = ? AND parent_id IS NULL", companyID).
		Order("sequence ASC, id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repository) Update(ctx context.Context, def *taxdomain.TaxDefinition) error {
	return r.db.WithContext(ctx).Save(def).Error
}
