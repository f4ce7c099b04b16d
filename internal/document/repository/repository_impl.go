package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
	obsmetrics "github.com/andinasoft/dte/internal/observability/metrics"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) docdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, doc *docdomain.AssembledDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*docdomain.AssembledDocument, error) {
	var doc docdomain.AssembledDocument
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, docdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []snowflake.ID) ([]docdomain.AssembledDocument, error) {
	var docs []docdomain.AssembledDocument
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *repository) Update(ctx context.Context, doc *docdomain.AssembledDocument) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

func (r *repository) UpdateState(ctx context.Context, id snowflake.ID, state docdomain.State, trackingID string) error {
	updates := map[string]any{"state": state}
	if trackingID != "" {
		updates["tracking_id"] = trackingID
	}
	res := r.db.WithContext(ctx).
		Model(&docdomain.AssembledDocument{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return docdomain.ErrNotFound
	}
	obsmetrics.Dispatch().IncStateChange(string(state))
	return nil
}

func (r *repository) List(ctx context.Context, companyID snowflake.ID, state docdomain.State, limit int) ([]docdomain.AssembledDocument, error) {
	q := r.db.WithContext(ctx).Where("company_id = ?", companyID)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var docs []docdomain.AssembledDocument
	if err := q.Order("id DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}
