package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
)

type service struct {
	repo  foliodomain.Repository
	authz authoritydomain.AuthorizationService
	cert  authoritydomain.Certificate
	genID *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

func NewService(
	repo foliodomain.Repository,
	authz authoritydomain.AuthorizationService,
	cert authoritydomain.Certificate,
	genID *snowflake.Node,
	clk clock.Clock,
	log *zap.Logger,
) foliodomain.Service {
	return &service{
		repo:  repo,
		authz: authz,
		cert:  cert,
		genID: genID,
		clock: clk,
		log:   log.Named("folio"),
	}
}

func (s *service) CreateSequence(ctx context.Context, seq *foliodomain.Sequence) (*foliodomain.Sequence, error) {
	if seq.ID == 0 {
		seq.ID = s.genID.Generate()
	}
	if seq.NextNumber <= 0 {
		seq.NextNumber = 1
	}
	if err := s.repo.CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *service) SequenceByClass(ctx context.Context, companyID snowflake.ID, classCode int) (*foliodomain.Sequence, error) {
	return s.repo.FindSequenceByClass(ctx, companyID, classCode)
}

// NextFolio issues the next folio under a sequence row lock. The
// increment and the covering-CAF check commit together or not at all;
// an uncovered counter is left untouched.
func (s *service) NextFolio(ctx context.Context, sequenceID snowflake.ID) (int64, error) {
	var folio int64
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		seq, err := s.repo.LockSequence(ctx, tx, sequenceID)
		if err != nil {
			return err
		}
		next := seq.NextNumber

		cafs, err := s.repo.CAFsFrom(ctx, tx, seq.ID, next)
		if err != nil {
			return err
		}
		if len(cafs) == 0 {
			return foliodomain.ErrSequenceExhausted
		}

		// Counter below every remaining range: a CAF upload or manual
		// reset left a hole. Advance to the lowest start, never back.
		lowest := cafs[0]
		if next < lowest.StartNumber {
			s.log.Warn("folio counter realigned to CAF start",
				zap.Int64("sequence_id", int64(seq.ID)),
				zap.Int64("from", next),
				zap.Int64("to", lowest.StartNumber),
			)
			next = lowest.StartNumber
		}

		covering, err := s.coveringCAF(cafs, next)
		if err != nil {
			return err
		}

		seq.NextNumber = next + 1
		if err := s.repo.UpdateSequence(ctx, tx, seq); err != nil {
			return err
		}
		if covering.Status != foliodomain.CAFStatusInUse {
			covering.Status = foliodomain.CAFStatusInUse
			if err := s.repo.UpdateCAF(ctx, tx, covering); err != nil {
				return err
			}
		}
		if next == covering.FinalNumber {
			covering.Status = foliodomain.CAFStatusSpent
			if err := s.repo.UpdateCAF(ctx, tx, covering); err != nil {
				return err
			}
		}

		folio = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return folio, nil
}

func (s *service) coveringCAF(cafs []foliodomain.CAF, folio int64) (*foliodomain.CAF, error) {
	now := s.clock.Now()
	expired := false
	for i := range cafs {
		if !cafs[i].Covers(folio) {
			continue
		}
		if cafs[i].ExpiredAt(now) {
			expired = true
			continue
		}
		return &cafs[i], nil
	}
	if expired {
		return nil, foliodomain.ErrAuthorizationExpired
	}
	return nil, foliodomain.ErrSequenceExhausted
}

func (s *service) Available(ctx context.Context, sequenceID snowflake.ID, folio int64) (int64, error) {
	seq, err := s.repo.FindSequence(ctx, sequenceID)
	if err != nil {
		return 0, err
	}
	if folio <= 0 {
		folio = seq.NextNumber
	}
	cafs, err := s.repo.CAFsFrom(ctx, nil, sequenceID, folio)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	var available int64
	for _, c := range cafs {
		if c.ExpiredAt(now) {
			continue
		}
		available += c.Remaining(folio)
	}
	return available, nil
}

func (s *service) CAFFor(ctx context.Context, sequenceID snowflake.ID, folio int64) (*foliodomain.CAF, error) {
	cafs, err := s.repo.CAFsFrom(ctx, nil, sequenceID, folio)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	expired := false
	for i := range cafs {
		if !cafs[i].Covers(folio) {
			continue
		}
		if cafs[i].ExpiredAt(now) {
			expired = true
			continue
		}
		return &cafs[i], nil
	}
	if expired {
		return nil, foliodomain.ErrAuthorizationExpired
	}
	return nil, foliodomain.ErrNoAuthorizationAvailable
}

func (s *service) Realign(ctx context.Context, sequenceID snowflake.ID) error {
	return s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		seq, err := s.repo.LockSequence(ctx, tx, sequenceID)
		if err != nil {
			return err
		}
		cafs, err := s.repo.CAFsFrom(ctx, tx, seq.ID, seq.NextNumber)
		if err != nil {
			return err
		}
		if len(cafs) == 0 || seq.NextNumber >= cafs[0].StartNumber {
			return nil
		}
		s.log.Warn("folio counter realigned",
			zap.Int64("sequence_id", int64(seq.ID)),
			zap.Int64("from", seq.NextNumber),
			zap.Int64("to", cafs[0].StartNumber),
		)
		seq.NextNumber = cafs[0].StartNumber
		return s.repo.UpdateSequence(ctx, tx, seq)
	})
}

// RegisterCAF validates an uploaded authorization file against its
// owning sequence and stores it ready for use.
func (s *service) RegisterCAF(ctx context.Context, sequenceID snowflake.ID, raw []byte) (*foliodomain.CAF, error) {
	seq, err := s.repo.FindSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	parsed, err := foliodomain.ParseCAFFile(raw)
	if err != nil {
		return nil, err
	}
	if parsed.DocumentClass != seq.DocumentClassCode {
		return nil, fmt.Errorf("%w: CAF class %d, sequence class %d",
			foliodomain.ErrCAFMismatch, parsed.DocumentClass, seq.DocumentClassCode)
	}
	if !sameRUT(parsed.IssuerRUT, seq.CompanyRUT) {
		return nil, fmt.Errorf("%w: CAF issuer %s, company %s",
			foliodomain.ErrCAFMismatch, parsed.IssuerRUT, seq.CompanyRUT)
	}

	caf := &foliodomain.CAF{
		ID:                s.genID.Generate(),
		SequenceID:        seq.ID,
		DocumentClassCode: parsed.DocumentClass,
		StartNumber:       parsed.StartNumber,
		FinalNumber:       parsed.FinalNumber,
		IssuedDate:        parsed.IssuedDate,
		ExpirationDate:    parsed.Expiration(),
		RawPayload:        raw,
		Status:            foliodomain.CAFStatusInUse,
	}
	if err := s.repo.CreateCAF(ctx, caf); err != nil {
		return nil, err
	}
	s.log.Info("caf registered",
		zap.Int64("sequence_id", int64(seq.ID)),
		zap.Int("document_class", caf.DocumentClassCode),
		zap.Int64("start", caf.StartNumber),
		zap.Int64("final", caf.FinalNumber),
	)
	return caf, nil
}

// CheckReplenishment walks auto-replenish sequences and requests a new
// folio batch for any below their low watermark. One sequence failing
// does not stop the sweep.
func (s *service) CheckReplenishment(ctx context.Context) error {
	seqs, err := s.repo.ListAutoReplenish(ctx)
	if err != nil {
		return err
	}
	var sweepErr error
	for i := range seqs {
		seq := &seqs[i]
		available, err := s.Available(ctx, seq.ID, 0)
		if err != nil {
			sweepErr = errors.Join(sweepErr, err)
			continue
		}
		if available >= seq.MinimumLevel {
			continue
		}
		s.log.Warn("folio level under watermark",
			zap.Int64("sequence_id", int64(seq.ID)),
			zap.Int("document_class", seq.DocumentClassCode),
			zap.Int64("available", available),
			zap.Int64("minimum", seq.MinimumLevel),
		)
		if err := s.replenish(ctx, seq); err != nil {
			sweepErr = errors.Join(sweepErr, err)
		}
	}
	return sweepErr
}

func (s *service) replenish(ctx context.Context, seq *foliodomain.Sequence) error {
	quantity := seq.ReplenishQuantity
	grant, err := s.authz.RequestFolioBatch(ctx, seq.DocumentClassCode, quantity, s.cert)
	if err != nil {
		return fmt.Errorf("request folio batch for class %d: %w", seq.DocumentClassCode, err)
	}
	if grant.MaxAuthorized == 0 {
		// The authority refuses further ranges until the backlog is
		// consumed. Stop asking.
		seq.AutoReplenish = false
		if err := s.repo.UpdateSequence(ctx, nil, seq); err != nil {
			return err
		}
		s.log.Warn("authority denied further folio batches, auto-replenish disabled",
			zap.Int64("sequence_id", int64(seq.ID)),
			zap.Int64("authority_available", grant.Available),
		)
		return nil
	}
	if _, err := s.RegisterCAF(ctx, seq.ID, grant.RawCAF); err != nil {
		return err
	}
	return nil
}

func sameRUT(a, b string) bool {
	normalize := func(v string) string {
		v = strings.ToUpper(strings.TrimSpace(v))
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, "-", "")
		return strings.TrimPrefix(v, "CL")
	}
	return normalize(a) == normalize(b)
}
