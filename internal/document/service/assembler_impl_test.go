package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	docrepo "github.com/andinasoft/dte/internal/document/repository"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	foliorepo "github.com/andinasoft/dte/internal/folio/repository"
	folioservice "github.com/andinasoft/dte/internal/folio/service"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
	taxrepo "github.com/andinasoft/dte/internal/tax/repository"
	taxservice "github.com/andinasoft/dte/internal/tax/service"
)

const testRUT = "76354771-K"

type stubSigner struct {
	signCalls int
	signErr   error
}

func (s *stubSigner) Sign(ctx context.Context, payload, cafPayload []byte, cert authoritydomain.Certificate) (authoritydomain.SignedDocument, error) {
	s.signCalls++
	if s.signErr != nil {
		return authoritydomain.SignedDocument{}, s.signErr
	}
	signed := append([]byte("<signed>"), payload...)
	return authoritydomain.SignedDocument{XML: signed, Stamp: "TED"}, nil
}

func (s *stubSigner) Submit(ctx context.Context, envelope []byte, cert authoritydomain.Certificate) (authoritydomain.Submission, error) {
	return authoritydomain.Submission{}, nil
}

func (s *stubSigner) PollStatus(ctx context.Context, trackingID string, cert authoritydomain.Certificate) (authoritydomain.StatusResult, error) {
	return authoritydomain.StatusResult{}, nil
}

func (s *stubSigner) Cancel(ctx context.Context, trackingID string, cert authoritydomain.Certificate) (authoritydomain.StatusResult, error) {
	return authoritydomain.StatusResult{}, nil
}

type stubEnqueuer struct {
	enqueued []snowflake.ID
}

func (s *stubEnqueuer) EnqueuePassive(ctx context.Context, doc *docdomain.AssembledDocument) error {
	s.enqueued = append(s.enqueued, doc.ID)
	return nil
}

type stubAuthz struct{}

func (stubAuthz) RequestFolioBatch(ctx context.Context, classCode int, quantity int64, cert authoritydomain.Certificate) (authoritydomain.FolioGrant, error) {
	return authoritydomain.FolioGrant{}, authoritydomain.ErrRemoteUnavailable
}

type fixture struct {
	asm      docdomain.Assembler
	folios   foliodomain.Service
	taxes    taxdomain.Service
	signer   *stubSigner
	enqueuer *stubEnqueuer
	clock    *clock.FakeClock
	node     *snowflake.Node

	companyID snowflake.ID
	vatID     snowflake.ID
}

func cafXML(class int, start, final int64) []byte {
	return []byte(fmt.Sprintf(`<AUTORIZACION><CAF version="1.0"><DA><RE>%s</RE><RS>EMPRESA DE PRUEBA SA</RS><TD>%d</TD><RNG><D>%d</D><H>%d</H></RNG><FA>2026-02-15</FA></DA></CAF></AUTORIZACION>`,
		testRUT, class, start, final))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&taxdomain.TaxDefinition{}, &taxdomain.RepartitionLine{},
		&foliodomain.Sequence{}, &foliodomain.CAF{},
		&docdomain.AssembledDocument{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cert := authoritydomain.Certificate{Subject: testRUT}

	taxes := taxservice.NewService(taxrepo.NewRepository(db), node, log)
	folios := folioservice.NewService(foliorepo.NewRepository(db), stubAuthz{}, cert, node, clk, log)
	signer := &stubSigner{}
	enqueuer := &stubEnqueuer{}
	asm := NewAssembler(docrepo.NewRepository(db), taxes, folios, signer, cert, enqueuer, node, clk, log)

	f := &fixture{
		asm: asm, folios: folios, taxes: taxes,
		signer: signer, enqueuer: enqueuer, clock: clk, node: node,
		companyID: node.Generate(),
	}

	vat, err := taxes.Create(context.Background(), &taxdomain.TaxDefinition{
		CompanyID:     f.companyID,
		Name:          "IVA 19%",
		AuthorityCode: taxdomain.CodeVAT,
		AmountType:    taxdomain.AmountTypePercent,
		Amount:        decimal.NewFromInt(19),
		PriceInclude:  true,
		IsEnabled:     true,
	})
	if err != nil {
		t.Fatalf("create vat: %v", err)
	}
	f.vatID = vat.ID

	for _, class := range []int{33, 61} {
		seq, err := folios.CreateSequence(context.Background(), &foliodomain.Sequence{
			CompanyID:         f.companyID,
			CompanyRUT:        testRUT,
			DocumentClassCode: class,
		})
		if err != nil {
			t.Fatalf("create sequence %d: %v", class, err)
		}
		if _, err := folios.RegisterCAF(context.Background(), seq.ID, cafXML(class, 1, 100)); err != nil {
			t.Fatalf("register caf %d: %v", class, err)
		}
	}
	return f
}

func (f *fixture) invoiceTx() docdomain.Transaction {
	return docdomain.Transaction{
		CompanyID:         f.companyID,
		DocumentClassCode: 33,
		Issuer: docdomain.Party{
			TaxID: testRUT, Name: "Empresa de Prueba SA",
			Activity: "Venta al por menor", ActivityCode: 475900,
			Address: "Av. Siempre Viva 123", Commune: "Santiago", City: "Santiago",
		},
		Receiver: docdomain.Party{
			TaxID: "60803000-K", Name: "Cliente SpA",
			Address: "Moneda 975", Commune: "Santiago", City: "Santiago",
		},
		Currency:          "CLP",
		CurrencyPrecision: 0,
		Lines: []docdomain.Line{{
			Sequence:  1,
			Name:      "Producto afecto",
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(1190),
			TaxIDs:    []snowflake.ID{f.vatID},
		}},
		IssueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAssembleInclusiveVATInvoice(t *testing.T) {
	f := newFixture(t)
	doc, err := f.asm.Assemble(context.Background(), f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	assert.Equal(t, 33, doc.DocumentClassCode)
	assert.Equal(t, int64(1), doc.Folio)
	assert.True(t, doc.NetAmount.Equal(decimal.NewFromInt(1000)), "net %s", doc.NetAmount)
	assert.True(t, doc.TaxAmount.Equal(decimal.NewFromInt(190)), "vat %s", doc.TaxAmount)
	assert.True(t, doc.TotalAmount.Equal(decimal.NewFromInt(1190)), "total %s", doc.TotalAmount)
	assert.Equal(t, docdomain.StateQueued, doc.State)
	assert.Equal(t, 1, f.signer.signCalls)
	assert.Equal(t, []snowflake.ID{doc.ID}, f.enqueuer.enqueued)
	assert.Equal(t, "TED", doc.Stamp)

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(doc.Payload, &payload))
	assert.Equal(t, 33, payload.Document.Header.IdDoc.TipoDTE)
	assert.Equal(t, "1000", payload.Document.Header.Totales.MntNeto)
	assert.Equal(t, "190", payload.Document.Header.Totales.IVA)
	assert.Equal(t, "1190", payload.Document.Header.Totales.MntTotal)
	assert.Len(t, payload.Document.Detail, 1)
	assert.Equal(t, 1, payload.Document.Detail[0].NroLinDet)
	assert.Nil(t, payload.Document.Header.OtraMoneda)
}

func TestAssembleFoliosAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		doc, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
		assert.NoError(t, err)
		assert.Equal(t, want, doc.Folio)
	}
}

func TestAssembleNoteWithoutReferenceFailsBeforeFolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := f.invoiceTx()
	tx.DocumentClassCode = 61
	_, err := f.asm.Assemble(ctx, tx, docdomain.AssemblyOptions{})
	assert.ErrorIs(t, err, docdomain.ErrMissingReference)

	// The failed attempt must not consume a folio.
	doc, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), doc.Folio)
}

func TestAssembleRejectsTaxedLinesOnExemptClass(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.DocumentClassCode = 34
	_, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.ErrorIs(t, err, docdomain.ErrDocumentClassMismatch)
}

func TestAssembleRejectsAnonymousReceiver(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Receiver = docdomain.Party{}
	_, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.ErrorIs(t, err, docdomain.ErrInvalidReceiver)
}

func TestAssembleGlobalDiscount(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Adjustments = []docdomain.GlobalAdjustment{{
		Kind:      docdomain.AdjustmentDiscount,
		ValueType: docdomain.AdjustmentPercent,
		Value:     decimal.NewFromInt(10),
		Scope:     docdomain.ScopeTaxed,
	}}
	doc, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.NoError(t, err)
	assert.True(t, doc.NetAmount.Equal(decimal.NewFromInt(900)), "net %s", doc.NetAmount)
	assert.True(t, doc.TaxAmount.Equal(decimal.NewFromInt(171)), "vat %s", doc.TaxAmount)
	assert.True(t, doc.TotalAmount.Equal(decimal.NewFromInt(1071)), "total %s", doc.TotalAmount)

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(doc.Payload, &payload))
	assert.Len(t, payload.Document.Adjustments, 1)
	assert.Equal(t, "D", payload.Document.Adjustments[0].TpoMov)
	assert.Equal(t, "%", payload.Document.Adjustments[0].TpoValor)
}

func TestAssembleRejectsNegativeAdjustedBase(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Adjustments = []docdomain.GlobalAdjustment{{
		Kind:      docdomain.AdjustmentDiscount,
		ValueType: docdomain.AdjustmentAmount,
		Value:     decimal.NewFromInt(5000),
		Scope:     docdomain.ScopeTaxed,
	}}
	_, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.ErrorIs(t, err, docdomain.ErrInvalidGlobalAdjustment)

	tx = f.invoiceTx()
	tx.Adjustments = []docdomain.GlobalAdjustment{{
		Kind:      docdomain.AdjustmentDiscount,
		ValueType: docdomain.AdjustmentAmount,
		Value:     decimal.Zero,
		Scope:     docdomain.ScopeTaxed,
	}}
	_, err = f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.ErrorIs(t, err, docdomain.ErrInvalidGlobalAdjustment)
}

func TestAssembleOtherCurrencyBlock(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Currency = "USD"
	tx.CurrencyPrecision = 2
	tx.CurrencyRate = decimal.NewFromInt(950)
	tx.Lines[0].UnitPrice = decimal.RequireFromString("11.90")

	doc, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(doc.Payload, &payload))
	if assert.NotNil(t, payload.Document.Header.OtraMoneda) {
		assert.Equal(t, "CLP", payload.Document.Header.OtraMoneda.TpoMoneda)
		assert.Equal(t, "11305.00", payload.Document.Header.OtraMoneda.MntTotOtrMnda)
	}
}

func TestAssembleDeterministicPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)
	second, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	var a, b docdomain.Payload
	assert.NoError(t, xml.Unmarshal(first.Payload, &a))
	assert.NoError(t, xml.Unmarshal(second.Payload, &b))

	// Folio differs; everything the input determines is identical.
	assert.Equal(t, a.Document.Header.Totales, b.Document.Header.Totales)
	assert.Equal(t, a.Document.Detail, b.Document.Detail)
	assert.Equal(t, a.Document.Header.Emisor, b.Document.Header.Emisor)
	assert.Equal(t, a.Document.Header.Receptor, b.Document.Header.Receptor)
	assert.NotEqual(t, a.Document.Header.IdDoc.Folio, b.Document.Header.IdDoc.Folio)
}

func TestAssembleSkipEnqueueLeavesNotSent(t *testing.T) {
	f := newFixture(t)
	doc, err := f.asm.Assemble(context.Background(), f.invoiceTx(), docdomain.AssemblyOptions{SkipEnqueue: true})
	assert.NoError(t, err)
	assert.Equal(t, docdomain.StateNotSent, doc.State)
	assert.Empty(t, f.enqueuer.enqueued)
}

func TestBuildCreditNoteVoid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	note, err := f.asm.BuildNote(ctx, base.ID, docdomain.KindCreditNote, docdomain.ReasonVoid, "anula factura")
	assert.NoError(t, err)
	assert.Equal(t, 61, note.DocumentClassCode)
	assert.True(t, note.TotalAmount.Equal(base.TotalAmount))

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(note.Payload, &payload))
	if assert.Len(t, payload.Document.References, 1) {
		ref := payload.Document.References[0]
		assert.Equal(t, "33", ref.TpoDocRef)
		assert.Equal(t, "1", ref.FolioRef)
		assert.Equal(t, int(docdomain.ReasonVoid), ref.CodRef)
	}
}

func TestBuildNoteTextFixCarriesNoAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	note, err := f.asm.BuildNote(ctx, base.ID, docdomain.KindCreditNote, docdomain.ReasonTextFix, "corrige giro del receptor")
	assert.NoError(t, err)
	assert.True(t, note.TotalAmount.IsZero(), "total %s", note.TotalAmount)

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(note.Payload, &payload))
	if assert.Len(t, payload.Document.Detail, 1) {
		assert.Equal(t, "1", payload.Document.Detail[0].QtyItem)
		assert.Equal(t, "0", payload.Document.Detail[0].MontoItem)
	}
}

func TestBuildNoteRejectsNonNoteKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.asm.Assemble(ctx, f.invoiceTx(), docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	_, err = f.asm.BuildNote(ctx, base.ID, docdomain.KindInvoice, docdomain.ReasonVoid, "x")
	assert.ErrorIs(t, err, docdomain.ErrUnknownDocumentClass)
}

func TestAssembleOrdersDetailBySequence(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Lines = []docdomain.Line{
		{
			Sequence:  2,
			Name:      "Flete",
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(238),
			TaxIDs:    []snowflake.ID{f.vatID},
		},
		{
			Sequence:  1,
			Name:      "Producto afecto",
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(1190),
			TaxIDs:    []snowflake.ID{f.vatID},
		},
	}

	doc, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(doc.Payload, &payload))
	if assert.Len(t, payload.Document.Detail, 2) {
		assert.Equal(t, 1, payload.Document.Detail[0].NroLinDet)
		assert.Equal(t, "Producto afecto", payload.Document.Detail[0].NmbItem)
		assert.Equal(t, "1000", payload.Document.Detail[0].MontoItem)
		assert.Equal(t, 2, payload.Document.Detail[1].NroLinDet)
		assert.Equal(t, "Flete", payload.Document.Detail[1].NmbItem)
		assert.Equal(t, "200", payload.Document.Detail[1].MontoItem)
	}
	assert.Equal(t, "1428", payload.Document.Header.Totales.MntTotal)
}

func TestAssembleAssignsMissingLineSequences(t *testing.T) {
	f := newFixture(t)
	tx := f.invoiceTx()
	tx.Lines = []docdomain.Line{
		{
			Sequence:  5,
			Name:      "Con secuencia",
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(1190),
			TaxIDs:    []snowflake.ID{f.vatID},
		},
		{
			Name:      "Sin secuencia",
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.NewFromInt(1190),
			TaxIDs:    []snowflake.ID{f.vatID},
		},
	}

	doc, err := f.asm.Assemble(context.Background(), tx, docdomain.AssemblyOptions{})
	assert.NoError(t, err)

	// The unsequenced line slots in after every explicit position.
	var payload docdomain.Payload
	assert.NoError(t, xml.Unmarshal(doc.Payload, &payload))
	if assert.Len(t, payload.Document.Detail, 2) {
		assert.Equal(t, "Con secuencia", payload.Document.Detail[0].NmbItem)
		assert.Equal(t, "Sin secuencia", payload.Document.Detail[1].NmbItem)
	}
}

func TestAssembleCreditNoteKeepsPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx := f.invoiceTx()
	tx.DocumentClassCode = 61
	tx.References = []docdomain.Reference{{
		DocumentClassCode: 33,
		Folio:             7,
		Date:              time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		Reason:            docdomain.ReasonVoid,
		Description:       "anula factura",
	}}

	doc, err := f.asm.Assemble(ctx, tx, docdomain.AssemblyOptions{})
	assert.NoError(t, err)
	assert.True(t, doc.NetAmount.Equal(decimal.NewFromInt(1000)), "net %s", doc.NetAmount)
	assert.True(t, doc.TaxAmount.Equal(decimal.NewFromInt(190)), "vat %s", doc.TaxAmount)
	assert.True(t, doc.TotalAmount.Equal(decimal.NewFromInt(1190)), "total %s", doc.TotalAmount)
}
