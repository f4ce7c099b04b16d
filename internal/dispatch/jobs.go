package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	obsmetrics "github.com/andinasoft/dte/internal/observability/metrics"
)

// PassiveJob promotes held documents into the send queue once their
// passive delay elapses. Documents that progressed or vanished in the
// meantime deactivate their job instead.
func (s *Scheduler) PassiveJob(ctx context.Context) error {
	cfg := s.holder.Get()
	var jobErr error
	processed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs, err := s.fetchJobsForWork(ctx, tx, JobPassive, cfg.BatchSize)
		if err != nil {
			return err
		}
		for i := range jobs {
			job := &jobs[i]
			if err := s.promotePassive(ctx, tx, job); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("passive job failed",
					zap.Int64("job_id", int64(job.ID)),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
		return nil
	})
	obsmetrics.Dispatch().AddBatchProcessed("passive", processed)
	return errors.Join(jobErr, err)
}

func (s *Scheduler) promotePassive(ctx context.Context, tx *gorm.DB, job *SendJob) error {
	ids, err := job.Documents()
	if err != nil {
		return err
	}
	docs, err := s.docs.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	var pending []snowflake.ID
	for _, doc := range docs {
		if doc.State == docdomain.StateNotSent || doc.State == docdomain.StateQueued {
			pending = append(pending, doc.ID)
		}
	}
	if len(pending) == 0 {
		// Everything already moved on; nothing left to send.
		return s.deactivateJob(ctx, tx, job, "")
	}
	job.Kind = JobSend
	job.ScheduledAt = s.clock.Now()
	if err := job.SetDocuments(pending); err != nil {
		return err
	}
	return s.saveJob(ctx, tx, job)
}

// SendJobBatch coalesces due send jobs into one envelope per company
// and batch group, then submits them. A job whose submission yields no
// tracking identifier stays queued for the next cycle.
func (s *Scheduler) SendJobBatch(ctx context.Context) error {
	cfg := s.holder.Get()
	var jobErr error
	processed := 0

	jobs, err := s.fetchJobsForWork(ctx, nil, JobSend, cfg.BatchSize)
	if err != nil {
		return err
	}
	batches, err := s.coalesceSendJobs(ctx, jobs, cfg.EnvelopeLimit)
	if err != nil {
		jobErr = errors.Join(jobErr, err)
	}
	for _, job := range batches {
		if err := s.submitJob(ctx, job); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("send job failed",
				zap.Int64("job_id", int64(job.ID)),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	obsmetrics.Dispatch().AddBatchProcessed("send", processed)
	return jobErr
}

// coalesceSendJobs merges due jobs sharing a company and batch group
// into the group's first job, up to the envelope limit. Fully absorbed
// jobs retire; a job whose documents do not fit keeps the remainder for
// the next cycle.
func (s *Scheduler) coalesceSendJobs(ctx context.Context, jobs []SendJob, limit int) ([]*SendJob, error) {
	type groupKey struct {
		company snowflake.ID
		group   string
	}
	leaders := map[groupKey]*SendJob{}
	merged := map[groupKey][]snowflake.ID{}
	var order []groupKey
	var coalesceErr error

	for i := range jobs {
		job := &jobs[i]
		ids, err := job.Documents()
		if err != nil {
			coalesceErr = errors.Join(coalesceErr, err)
			continue
		}
		key := groupKey{job.CompanyID, job.BatchGroup}
		if _, ok := leaders[key]; !ok {
			leaders[key] = job
			merged[key] = ids
			order = append(order, key)
			continue
		}
		room := limit - len(merged[key])
		if room <= 0 {
			// Envelope full; the job waits for the next cycle.
			coalesceErr = errors.Join(coalesceErr, s.saveJob(ctx, nil, job))
			continue
		}
		take := ids
		if len(take) > room {
			take = take[:room]
		}
		merged[key] = append(merged[key], take...)
		rest := ids[len(take):]
		if len(rest) == 0 {
			coalesceErr = errors.Join(coalesceErr, s.deactivateJob(ctx, nil, job, "coalesced"))
			continue
		}
		if err := job.SetDocuments(rest); err != nil {
			coalesceErr = errors.Join(coalesceErr, err)
			continue
		}
		coalesceErr = errors.Join(coalesceErr, s.saveJob(ctx, nil, job))
	}

	out := make([]*SendJob, 0, len(order))
	for _, key := range order {
		leader := leaders[key]
		ids := merged[key]
		if len(ids) > limit {
			rest := ids[limit:]
			ids = ids[:limit]
			if _, err := s.queue.enqueueAt(ctx, nil, JobSend, key.company, key.group, rest, s.clock.Now()); err != nil {
				coalesceErr = errors.Join(coalesceErr, err)
				continue
			}
		}
		if err := leader.SetDocuments(ids); err != nil {
			coalesceErr = errors.Join(coalesceErr, err)
			continue
		}
		out = append(out, leader)
	}
	return out, coalesceErr
}

func (s *Scheduler) submitJob(ctx context.Context, job *SendJob) error {
	ids, err := job.Documents()
	if err != nil {
		return err
	}
	docs, err := s.docs.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return s.deactivateJob(ctx, nil, job, "no documents")
	}

	issuerRUT := s.cert.Subject
	for _, doc := range docs {
		class, err := doc.Class()
		if err != nil {
			return err
		}
		if string(class.BatchGroup) != job.BatchGroup {
			_ = s.deactivateJob(ctx, nil, job, ErrIncompatibleBatch.Error())
			return fmt.Errorf("%w: class %d in %s job", ErrIncompatibleBatch, doc.DocumentClassCode, job.BatchGroup)
		}
	}

	// Poll later stamps the envelope outcome onto every job document,
	// so the job must list exactly what goes over the wire.
	submitted := make([]snowflake.ID, len(docs))
	for i := range docs {
		submitted[i] = docs[i].ID
	}
	if err := job.SetDocuments(submitted); err != nil {
		return err
	}

	now := s.clock.Now()
	payload, err := buildEnvelope(issuerRUT, docs, now)
	if err != nil {
		return err
	}

	job.Attempts++
	if job.FirstAttemptAt == nil {
		at := now
		job.FirstAttemptAt = &at
	}

	submission, err := s.signer.Submit(ctx, payload, s.cert)
	if err != nil || submission.TrackingID == "" {
		if err != nil && !errors.Is(err, authoritydomain.ErrRemoteUnavailable) {
			job.LastError = err.Error()
			_ = s.saveJob(ctx, nil, job)
			return err
		}
		// Authority down or silent: keep the job in send and retry
		// next cycle.
		job.LastError = "submission not acknowledged"
		if err != nil {
			job.LastError = err.Error()
		}
		return s.saveJob(ctx, nil, job)
	}

	envelope := &DispatchEnvelope{
		ID:            s.genID.Generate(),
		CompanyID:     job.CompanyID,
		BatchGroup:    job.BatchGroup,
		TrackingID:    submission.TrackingID,
		DocumentCount: len(docs),
		Payload:       payload,
		SubmittedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(envelope).Error; err != nil {
		return err
	}

	for _, doc := range docs {
		if err := s.docs.UpdateState(ctx, doc.ID, docdomain.StateSent, submission.TrackingID); err != nil {
			return err
		}
	}

	job.Kind = JobPoll
	job.TrackingID = submission.TrackingID
	job.LastError = ""
	job.ScheduledAt = now
	s.log.Info("envelope submitted",
		zap.Int64("job_id", int64(job.ID)),
		zap.String("tracking_id", submission.TrackingID),
		zap.Int("documents", len(docs)),
	)
	return s.saveJob(ctx, nil, job)
}

// PollJob asks the authority for the outcome of submitted envelopes and
// propagates terminal states to every batch document.
func (s *Scheduler) PollJob(ctx context.Context) error {
	cfg := s.holder.Get()
	var jobErr error
	processed := 0

	jobs, err := s.fetchJobsForWork(ctx, nil, JobPoll, cfg.BatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := &jobs[i]
		if err := s.pollOne(ctx, job); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("poll job failed",
				zap.Int64("job_id", int64(job.ID)),
				zap.String("tracking_id", job.TrackingID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	obsmetrics.Dispatch().AddBatchProcessed("poll", processed)
	return jobErr
}

func (s *Scheduler) pollOne(ctx context.Context, job *SendJob) error {
	status, err := s.signer.PollStatus(ctx, job.TrackingID, s.cert)
	if errors.Is(err, authoritydomain.ErrRemoteUnavailable) {
		// Release the claim; the next cycle asks again.
		return s.saveJob(ctx, nil, job)
	}
	if err != nil {
		return err
	}
	if !status.State.Terminal() {
		// Still processing upstream; the job stays due untouched.
		return s.saveJob(ctx, nil, job)
	}

	ids, err := job.Documents()
	if err != nil {
		return err
	}
	docState := stateFor(status.State)
	for _, id := range ids {
		// Tracking ID stays on the document for audit.
		if err := s.docs.UpdateState(ctx, id, docState, job.TrackingID); err != nil {
			return err
		}
		if docState == docdomain.StateRejected {
			if err := s.requeueRejected(ctx, id); err != nil {
				s.log.Warn("requeue after rejection failed",
					zap.Int64("document_id", int64(id)),
					zap.Error(err),
				)
			}
		}
	}

	if docState == docdomain.StateAccepted && job.BatchGroup == string(docdomain.BatchGroupStandard) {
		// Standard documents wait for the receiver's commercial
		// acknowledgment before the job retires.
		cfg := s.holder.Get()
		job.Kind = JobReceipt
		job.ScheduledAt = s.clock.Now().Add(cfg.ReceiptInterval)
		return s.saveJob(ctx, nil, job)
	}
	return s.deactivateJob(ctx, nil, job, "")
}

func stateFor(remote authoritydomain.RemoteState) docdomain.State {
	switch remote {
	case authoritydomain.RemoteStateAccepted:
		return docdomain.StateAccepted
	case authoritydomain.RemoteStateAcceptedObjection:
		return docdomain.StatePartiallyAccepted
	case authoritydomain.RemoteStateRejected:
		return docdomain.StateRejected
	case authoritydomain.RemoteStateVoided:
		return docdomain.StateCancelled
	}
	return docdomain.StateSent
}

// requeueRejected re-assembles a rejected document from its source
// snapshot. The new document takes a fresh folio and signature; the
// rejected folio is never reissued.
func (s *Scheduler) requeueRejected(ctx context.Context, id snowflake.ID) error {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if len(doc.Source) == 0 {
		return fmt.Errorf("document %d has no source snapshot", doc.ID)
	}
	var source docdomain.Transaction
	if err := json.Unmarshal(doc.Source, &source); err != nil {
		return err
	}
	replacement, err := s.asm.Assemble(ctx, source, docdomain.AssemblyOptions{})
	if err != nil {
		return err
	}
	s.log.Info("rejected document requeued",
		zap.Int64("rejected_id", int64(doc.ID)),
		zap.Int64("replacement_id", int64(replacement.ID)),
		zap.Int64("replacement_folio", replacement.Folio),
	)
	return nil
}

// ReceiptJob waits for the receiver acknowledgment inside a bounded
// window. Window expiry retires the job without failing the document.
func (s *Scheduler) ReceiptJob(ctx context.Context) error {
	cfg := s.holder.Get()
	var jobErr error
	processed := 0

	jobs, err := s.fetchJobsForWork(ctx, nil, JobReceipt, cfg.BatchSize)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for i := range jobs {
		job := &jobs[i]
		if job.FirstAttemptAt != nil && now.Sub(*job.FirstAttemptAt) > cfg.ReceiptWindow {
			if err := s.deactivateJob(ctx, nil, job, "receipt window expired"); err != nil {
				jobErr = errors.Join(jobErr, err)
			}
			s.log.Info("receipt window expired",
				zap.Int64("job_id", int64(job.ID)),
				zap.String("tracking_id", job.TrackingID),
			)
			continue
		}

		status, err := s.signer.PollStatus(ctx, job.TrackingID, s.cert)
		if err != nil {
			if !errors.Is(err, authoritydomain.ErrRemoteUnavailable) {
				jobErr = errors.Join(jobErr, err)
			}
			continue
		}
		if status.State == authoritydomain.RemoteStateAccepted {
			if err := s.deactivateJob(ctx, nil, job, ""); err != nil {
				jobErr = errors.Join(jobErr, err)
			}
			processed++
			continue
		}
		job.ScheduledAt = now.Add(cfg.ReceiptInterval)
		if err := s.saveJob(ctx, nil, job); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	obsmetrics.Dispatch().AddBatchProcessed("receipt", processed)
	return jobErr
}

// CAFReplenishJob sweeps folio sequences below their watermark.
func (s *Scheduler) CAFReplenishJob(ctx context.Context) error {
	return s.folios.CheckReplenishment(ctx)
}

// Cancel voids a document. Sent documents ask the authority first;
// documents still held locally cancel without a remote call. Local
// queue cleanup is best-effort.
func (s *Scheduler) Cancel(ctx context.Context, documentID snowflake.ID) error {
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		return err
	}
	switch doc.State {
	case docdomain.StateCancelled:
		return nil
	case docdomain.StateRejected:
		return fmt.Errorf("%w: state %s", docdomain.ErrNotCancellable, doc.State)
	case docdomain.StateNotSent, docdomain.StateQueued:
		// Never left the building; cancel locally.
	default:
		if _, err := s.signer.Cancel(ctx, doc.TrackingID, s.cert); err != nil {
			return err
		}
	}
	if err := s.docs.UpdateState(ctx, doc.ID, docdomain.StateCancelled, ""); err != nil {
		return err
	}
	if err := s.deactivateJobsFor(ctx, doc.ID); err != nil {
		s.log.Warn("queue cleanup after cancel failed",
			zap.Int64("document_id", int64(doc.ID)),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Scheduler) deactivateJobsFor(ctx context.Context, documentID snowflake.ID) error {
	var jobs []SendJob
	err := s.db.WithContext(ctx).
		Where("active = ? AND kind IN ?", true, []JobKind{JobPassive, JobSend}).
		Find(&jobs).Error
	if err != nil {
		return err
	}
	var cleanupErr error
	for i := range jobs {
		job := &jobs[i]
		ids, err := job.Documents()
		if err != nil {
			cleanupErr = errors.Join(cleanupErr, err)
			continue
		}
		var kept []snowflake.ID
		for _, id := range ids {
			if id != documentID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(ids) {
			continue
		}
		if len(kept) == 0 {
			cleanupErr = errors.Join(cleanupErr, s.deactivateJob(ctx, nil, job, "cancelled"))
			continue
		}
		if err := job.SetDocuments(kept); err != nil {
			cleanupErr = errors.Join(cleanupErr, err)
			continue
		}
		cleanupErr = errors.Join(cleanupErr, s.saveJob(ctx, nil, job))
	}
	return cleanupErr
}
