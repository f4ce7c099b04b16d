package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	foliorepo "github.com/andinasoft/dte/internal/folio/repository"
)

const testRUT = "76354771-K"

func cafXML(rut string, class int, start, final int64, issued string) []byte {
	return []byte(fmt.Sprintf(`<AUTORIZACION><CAF version="1.0"><DA><RE>%s</RE><RS>EMPRESA DE PRUEBA SA</RS><TD>%d</TD><RNG><D>%d</D><H>%d</H></RNG><FA>%s</FA></DA></CAF></AUTORIZACION>`,
		rut, class, start, final, issued))
}

type stubAuthz struct {
	grants []authoritydomain.FolioGrant
	err    error
	calls  int
}

func (s *stubAuthz) RequestFolioBatch(ctx context.Context, classCode int, quantity int64, cert authoritydomain.Certificate) (authoritydomain.FolioGrant, error) {
	s.calls++
	if s.err != nil {
		return authoritydomain.FolioGrant{}, s.err
	}
	g := s.grants[0]
	if len(s.grants) > 1 {
		s.grants = s.grants[1:]
	}
	return g, nil
}

type fixture struct {
	svc   foliodomain.Service
	repo  foliodomain.Repository
	clock *clock.FakeClock
	authz *stubAuthz
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps every transaction on the same in-memory
	// database and lets sqlite serialize concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&foliodomain.Sequence{}, &foliodomain.CAF{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	repo := foliorepo.NewRepository(db)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	authz := &stubAuthz{}
	svc := NewService(repo, authz, authoritydomain.Certificate{Subject: testRUT}, node, clk, zap.NewNop())
	return &fixture{svc: svc, repo: repo, clock: clk, authz: authz, node: node}
}

func (f *fixture) newSequence(t *testing.T, classCode int) *foliodomain.Sequence {
	t.Helper()
	seq, err := f.svc.CreateSequence(context.Background(), &foliodomain.Sequence{
		CompanyID:         f.node.Generate(),
		CompanyRUT:        testRUT,
		DocumentClassCode: classCode,
		MinimumLevel:      5,
	})
	if err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	return seq
}

func TestNextFolioIssuesMonotonically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 10, "2026-02-15"))
	assert.NoError(t, err)

	for want := int64(1); want <= 10; want++ {
		got, err := f.svc.NextFolio(ctx, seq.ID)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNextFolioExhaustedRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 2, "2026-02-15"))
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.svc.NextFolio(ctx, seq.ID)
		assert.NoError(t, err)
	}
	_, err = f.svc.NextFolio(ctx, seq.ID)
	assert.ErrorIs(t, err, foliodomain.ErrSequenceExhausted)

	// The failed call must not consume the counter.
	loaded, err := f.svc.SequenceByClass(ctx, seq.CompanyID, 33)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), loaded.NextNumber)
}

func TestNextFolioCrossesRangeGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 3, "2026-02-15"))
	assert.NoError(t, err)
	_, err = f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 20, 25, "2026-02-15"))
	assert.NoError(t, err)

	var issued []int64
	for i := 0; i < 5; i++ {
		got, err := f.svc.NextFolio(ctx, seq.ID)
		assert.NoError(t, err)
		issued = append(issued, got)
	}
	assert.Equal(t, []int64{1, 2, 3, 20, 21}, issued)
}

func TestNextFolioSpendsCAF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	caf, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 2, "2026-02-15"))
	assert.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.svc.NextFolio(ctx, seq.ID)
		assert.NoError(t, err)
	}
	got, err := f.svc.CAFFor(ctx, seq.ID, 2)
	assert.NoError(t, err)
	assert.Equal(t, caf.ID, got.ID)
	assert.Equal(t, foliodomain.CAFStatusSpent, got.Status)
}

func TestNextFolioSkipsExpiredCAF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	// Issued far enough back that the six month window has closed.
	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 10, "2025-06-01"))
	assert.NoError(t, err)

	_, err = f.svc.NextFolio(ctx, seq.ID)
	assert.ErrorIs(t, err, foliodomain.ErrAuthorizationExpired)
}

func TestNextFolioNonExpiringClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 39)

	// Receipts never expire regardless of age.
	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 39, 1, 10, "2020-01-01"))
	assert.NoError(t, err)

	got, err := f.svc.NextFolio(ctx, seq.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestAvailableSumsUsableRanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 10, "2026-02-15"))
	assert.NoError(t, err)
	_, err = f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 11, 30, "2026-02-15"))
	assert.NoError(t, err)
	// Expired range counts for nothing.
	_, err = f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 31, 40, "2025-06-01"))
	assert.NoError(t, err)

	available, err := f.svc.Available(ctx, seq.ID, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), available)

	for i := 0; i < 4; i++ {
		_, err := f.svc.NextFolio(ctx, seq.ID)
		assert.NoError(t, err)
	}
	available, err = f.svc.Available(ctx, seq.ID, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(26), available)
}

func TestCAFForDistinguishesExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 10, "2025-06-01"))
	assert.NoError(t, err)

	_, err = f.svc.CAFFor(ctx, seq.ID, 5)
	assert.ErrorIs(t, err, foliodomain.ErrAuthorizationExpired)

	_, err = f.svc.CAFFor(ctx, seq.ID, 99)
	assert.ErrorIs(t, err, foliodomain.ErrNoAuthorizationAvailable)
}

func TestRegisterCAFRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 61, 1, 10, "2026-02-15"))
	assert.ErrorIs(t, err, foliodomain.ErrCAFMismatch)

	_, err = f.svc.RegisterCAF(ctx, seq.ID, cafXML("99999999-9", 33, 1, 10, "2026-02-15"))
	assert.ErrorIs(t, err, foliodomain.ErrCAFMismatch)

	_, err = f.svc.RegisterCAF(ctx, seq.ID, []byte("not xml"))
	assert.ErrorIs(t, err, foliodomain.ErrInvalidCAF)
}

func TestRegisterCAFNormalizesRUT(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	caf, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML("76.354.771-k", 33, 1, 10, "2026-02-15"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), caf.StartNumber)
	assert.Equal(t, int64(10), caf.FinalNumber)
}

func TestRealignMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 50, 60, "2026-02-15"))
	assert.NoError(t, err)

	assert.NoError(t, f.svc.Realign(ctx, seq.ID))
	got, err := f.svc.NextFolio(ctx, seq.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(50), got)

	// A second realign inside an active range is a no-op.
	assert.NoError(t, f.svc.Realign(ctx, seq.ID))
	got, err = f.svc.NextFolio(ctx, seq.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(51), got)
}

func TestCheckReplenishmentRegistersGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)
	seq.AutoReplenish = true
	seq.ReplenishQuantity = 10
	assert.NoError(t, f.repo.UpdateSequence(ctx, nil, seq))

	f.authz.grants = []authoritydomain.FolioGrant{{
		RawCAF:        cafXML(testRUT, 33, 1, 10, "2026-02-15"),
		MaxAuthorized: 10,
		Available:     100,
	}}

	assert.NoError(t, f.svc.CheckReplenishment(ctx))
	assert.Equal(t, 1, f.authz.calls)

	available, err := f.svc.Available(ctx, seq.ID, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), available)
}

func TestCheckReplenishmentSkipsHealthySequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)
	seq.AutoReplenish = true
	seq.ReplenishQuantity = 10
	assert.NoError(t, f.repo.UpdateSequence(ctx, nil, seq))

	_, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 100, "2026-02-15"))
	assert.NoError(t, err)

	assert.NoError(t, f.svc.CheckReplenishment(ctx))
	assert.Equal(t, 0, f.authz.calls)
}

func TestCheckReplenishmentDisablesWhenDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)
	seq.AutoReplenish = true
	seq.ReplenishQuantity = 10
	assert.NoError(t, f.repo.UpdateSequence(ctx, nil, seq))

	f.authz.grants = []authoritydomain.FolioGrant{{MaxAuthorized: 0, Available: 0}}

	assert.NoError(t, f.svc.CheckReplenishment(ctx))

	loaded, err := f.svc.SequenceByClass(ctx, seq.CompanyID, 33)
	assert.NoError(t, err)
	assert.False(t, loaded.AutoReplenish)
}

func TestCheckReplenishmentIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broken := f.newSequence(t, 33)
	broken.AutoReplenish = true
	broken.ReplenishQuantity = 10
	assert.NoError(t, f.repo.UpdateSequence(ctx, nil, broken))

	f.authz.err = authoritydomain.ErrRemoteUnavailable

	err := f.svc.CheckReplenishment(ctx)
	assert.ErrorIs(t, err, authoritydomain.ErrRemoteUnavailable)
	assert.Equal(t, 1, f.authz.calls)
}

func TestNextFolioConcurrentEmittersNeverRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.newSequence(t, 33)
	if _, err := f.svc.RegisterCAF(ctx, seq.ID, cafXML(testRUT, 33, 1, 100, "2026-02-15")); err != nil {
		t.Fatalf("register caf: %v", err)
	}

	const emitters = 20
	results := make(chan int64, emitters)
	errs := make(chan error, emitters)
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			folio, err := f.svc.NextFolio(ctx, seq.ID)
			if err != nil {
				errs <- err
				return
			}
			results <- folio
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("next folio: %v", err)
	}

	// Exactly {1..emitters}, no duplicate, no gap.
	issued := map[int64]bool{}
	for folio := range results {
		assert.False(t, issued[folio], "folio %d issued twice", folio)
		issued[folio] = true
	}
	assert.Len(t, issued, emitters)
	for want := int64(1); want <= emitters; want++ {
		assert.True(t, issued[want], "folio %d missing", want)
	}
}
