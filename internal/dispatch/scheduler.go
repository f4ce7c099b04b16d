package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	"github.com/andinasoft/dte/internal/config"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	obsmetrics "github.com/andinasoft/dte/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Holder *config.DispatchConfigHolder
	Queue  *Queue
	Docs   docdomain.Repository
	Asm    docdomain.Assembler
	Folios foliodomain.Service
	Signer authoritydomain.SigningClient
	Cert   authoritydomain.Certificate
	GenID  *snowflake.Node
	Clock  clock.Clock
}

// Scheduler drains the dispatch queue: passive holds, envelope sends,
// status polls, receiver receipts, plus the folio replenishment sweep.
type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	holder *config.DispatchConfigHolder
	queue  *Queue
	docs   docdomain.Repository
	asm    docdomain.Assembler
	folios foliodomain.Service
	signer authoritydomain.SigningClient
	cert   authoritydomain.Certificate
	genID  *snowflake.Node
	clock  clock.Clock
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Holder == nil || p.Queue == nil || p.Docs == nil ||
		p.Asm == nil || p.Folios == nil || p.Signer == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:     p.DB,
		log:    p.Log.Named("dispatch").With(zap.String("component", "dispatch")),
		holder: p.Holder,
		queue:  p.Queue,
		docs:   p.Docs,
		asm:    p.Asm,
		folios: p.Folios,
		signer: p.Signer,
		cert:   p.Cert,
		genID:  p.GenID,
		clock:  p.Clock,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	metrics := obsmetrics.Dispatch()
	metrics.IncJobRun(name)

	err := fn(ctx)
	metrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the next cycle picks the rest up.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		metrics.IncJobTimeout(name)
	}
	metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"passive", 30 * time.Second, s.PassiveJob},
		{"send", 2 * time.Minute, s.SendJobBatch},
		{"poll", 2 * time.Minute, s.PollJob},
		{"receipt", 30 * time.Second, s.ReceiptJob},
		{"caf_replenish", 2 * time.Minute, s.CAFReplenishJob},
	}
	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.holder.Get().RunInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("dispatch run failed", zap.Error(err))
		}
		if next := s.holder.Get().RunInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// claimLease hides a fetched job from cooperating workers while it is
// processed. A crashed worker's claim expires and the job resurfaces.
const claimLease = 5 * time.Minute

// fetchJobsForWork claims due active jobs of one kind. The locked read
// and the lease write commit together, so two workers never walk away
// with the same job; rows held by another worker are skipped, not
// waited on. Handlers release the claim when they save the job.
func (s *Scheduler) fetchJobsForWork(ctx context.Context, tx *gorm.DB, kind JobKind, limit int) ([]SendJob, error) {
	var jobs []SendJob
	claim := func(tx *gorm.DB) error {
		query := `SELECT * FROM send_jobs
		 WHERE kind = ? AND active = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`
		if tx.Dialector.Name() != "sqlite" {
			query += ` FOR UPDATE SKIP LOCKED`
		}
		query += ` LIMIT ?`

		metrics := obsmetrics.Dispatch()
		lockStart := time.Now()
		err := tx.WithContext(ctx).Raw(query, kind, true, s.clock.Now(), limit).Scan(&jobs).Error
		metrics.ObserveDBLockWait(obsmetrics.LockResourceSendJobs, time.Since(lockStart))
		if err != nil || len(jobs) == 0 {
			return err
		}
		ids := make([]snowflake.ID, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		return tx.WithContext(ctx).Model(&SendJob{}).
			Where("id IN ?", ids).
			Update("scheduled_at", s.clock.Now().Add(claimLease)).Error
	}
	if tx != nil {
		if err := claim(tx); err != nil {
			return nil, err
		}
		return jobs, nil
	}
	if err := s.db.WithContext(ctx).Transaction(claim); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Scheduler) saveJob(ctx context.Context, tx *gorm.DB, job *SendJob) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Save(job).Error
}

func (s *Scheduler) deactivateJob(ctx context.Context, tx *gorm.DB, job *SendJob, reason string) error {
	job.Active = false
	if reason != "" {
		job.LastError = reason
	}
	return s.saveJob(ctx, tx, job)
}
