package dispatch

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/andinasoft/dte/internal/clock"
	"github.com/andinasoft/dte/internal/config"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

// Queue owns job rows. The assembler talks to it through the
// document domain's Enqueuer port.
type Queue struct {
	db     *gorm.DB
	holder *config.DispatchConfigHolder
	genID  *snowflake.Node
	clock  clock.Clock
	log    *zap.Logger
}

func NewQueue(db *gorm.DB, holder *config.DispatchConfigHolder, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) (*Queue, error) {
	if db == nil || holder == nil || genID == nil || clk == nil || log == nil {
		return nil, ErrInvalidConfig
	}
	return &Queue{db: db, holder: holder, genID: genID, clock: clk, log: log.Named("dispatch.queue")}, nil
}

// EnqueuePassive schedules a freshly assembled document for dispatch
// after the passive delay.
func (q *Queue) EnqueuePassive(ctx context.Context, doc *docdomain.AssembledDocument) error {
	class, err := doc.Class()
	if err != nil {
		return err
	}
	due := q.clock.Now().Add(q.holder.Get().PassiveDelay)
	job, err := q.enqueueAt(ctx, nil, JobPassive, doc.CompanyID, string(class.BatchGroup), []snowflake.ID{doc.ID}, due)
	if err != nil {
		return err
	}
	q.log.Debug("passive job enqueued",
		zap.Int64("job_id", int64(job.ID)),
		zap.Int64("document_id", int64(doc.ID)),
		zap.Time("scheduled_at", job.ScheduledAt),
	)
	return nil
}

// enqueueAt inserts a job of the given kind due at the given time.
func (q *Queue) enqueueAt(ctx context.Context, tx *gorm.DB, kind JobKind, companyID snowflake.ID, group string, ids []snowflake.ID, at time.Time) (*SendJob, error) {
	if tx == nil {
		tx = q.db
	}
	job := &SendJob{
		ID:          q.genID.Generate(),
		CompanyID:   companyID,
		Kind:        kind,
		BatchGroup:  group,
		ScheduledAt: at,
		Active:      true,
	}
	if err := job.SetDocuments(ids); err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}
