package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	obsmetrics "github.com/andinasoft/dte/internal/observability/metrics"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) foliodomain.Repository {
	return &repository{db: db}
}

func (r *repository) CreateSequence(ctx context.Context, seq *foliodomain.Sequence) error {
	return r.db.WithContext(ctx).Create(seq).Error
}

func (r *repository) FindSequence(ctx context.Context, id snowflake.ID) (*foliodomain.Sequence, error) {
	var seq foliodomain.Sequence
	err := r.db.WithContext(ctx).First(&seq, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, foliodomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *repository) FindSequenceByClass(ctx context.Context, companyID snowflake.ID, classCode int) (*foliodomain.Sequence, error) {
	var seq foliodomain.Sequence
	err := r.db.WithContext(ctx).
		First(&seq, "company_id = ? AND document_class_code = ?", companyID, classCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, foliodomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *repository) ListAutoReplenish(ctx context.Context) ([]foliodomain.Sequence, error) {
	var seqs []foliodomain.Sequence
	err := r.db.WithContext(ctx).
		Where("auto_replenish = ?", true).
		Order("id ASC").
		Find(&seqs).Error
	if err != nil {
		return nil, err
	}
	return seqs, nil
}

func (r *repository) LockSequence(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*foliodomain.Sequence, error) {
	var seq foliodomain.Sequence
	q := tx.WithContext(ctx)
	// sqlite serializes writers on its own and rejects FOR UPDATE.
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	lockStart := time.Now()
	err := q.First(&seq, "id = ?", id).Error
	obsmetrics.Dispatch().ObserveDBLockWait(obsmetrics.LockResourceSequence, time.Since(lockStart))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, foliodomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *repository) UpdateSequence(ctx context.Context, tx *gorm.DB, seq *foliodomain.Sequence) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Save(seq).Error
}

func (r *repository) CreateCAF(ctx context.Context, caf *foliodomain.CAF) error {
	return r.db.WithContext(ctx).Create(caf).Error
}

func (r *repository) UpdateCAF(ctx context.Context, tx *gorm.DB, caf *foliodomain.CAF) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Save(caf).Error
}

func (r *repository) CAFsFrom(ctx context.Context, tx *gorm.DB, sequenceID snowflake.ID, folio int64) ([]foliodomain.CAF, error) {
	if tx == nil {
		tx = r.db
	}
	var cafs []foliodomain.CAF
	err := tx.WithContext(ctx).
		Where("sequence_id = ? AND final_number >= ?", sequenceID, folio).
		Order("start_number ASC").
		Find(&cafs).Error
	if err != nil {
		return nil, err
	}
	return cafs, nil
}

func (r *repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
