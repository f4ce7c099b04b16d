package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	"github.com/andinasoft/dte/internal/clock"
	"github.com/andinasoft/dte/internal/config"
	"github.com/andinasoft/dte/internal/dispatch"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	docrepo "github.com/andinasoft/dte/internal/document/repository"
	docservice "github.com/andinasoft/dte/internal/document/service"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	foliorepo "github.com/andinasoft/dte/internal/folio/repository"
	folioservice "github.com/andinasoft/dte/internal/folio/service"
	"github.com/andinasoft/dte/internal/providers/email"
	pdfprovider "github.com/andinasoft/dte/internal/providers/pdf"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
	taxrepo "github.com/andinasoft/dte/internal/tax/repository"
	taxservice "github.com/andinasoft/dte/internal/tax/service"
)

const testRUT = "76354771-K"

type nullSigner struct{}

func (nullSigner) Sign(ctx context.Context, payload, cafPayload []byte, cert authoritydomain.Certificate) (authoritydomain.SignedDocument, error) {
	return authoritydomain.SignedDocument{XML: payload, Stamp: "TED"}, nil
}

func (nullSigner) Submit(ctx context.Context, envelope []byte, cert authoritydomain.Certificate) (authoritydomain.Submission, error) {
	return authoritydomain.Submission{TrackingID: "TRK-1"}, nil
}

func (nullSigner) PollStatus(ctx context.Context, trackingID string, cert authoritydomain.Certificate) (authoritydomain.StatusResult, error) {
	return authoritydomain.StatusResult{State: authoritydomain.RemoteStateProcessing}, nil
}

func (nullSigner) Cancel(ctx context.Context, trackingID string, cert authoritydomain.Certificate) (authoritydomain.StatusResult, error) {
	return authoritydomain.StatusResult{State: authoritydomain.RemoteStateVoided}, nil
}

type nullAuthz struct{}

func (nullAuthz) RequestFolioBatch(ctx context.Context, classCode int, quantity int64, cert authoritydomain.Certificate) (authoritydomain.FolioGrant, error) {
	return authoritydomain.FolioGrant{}, authoritydomain.ErrRemoteUnavailable
}

type testServer struct {
	engine    *gin.Engine
	companyID snowflake.ID
	vatID     snowflake.ID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&taxdomain.TaxDefinition{}, &taxdomain.RepartitionLine{},
		&foliodomain.Sequence{}, &foliodomain.CAF{},
		&docdomain.AssembledDocument{},
		&dispatch.SendJob{}, &dispatch.DispatchEnvelope{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cert := authoritydomain.Certificate{Subject: testRUT}
	holder := config.NewStaticDispatchConfigHolder(config.DispatchConfig{})

	taxes := taxservice.NewService(taxrepo.NewRepository(db), node, log)
	folios := folioservice.NewService(foliorepo.NewRepository(db), nullAuthz{}, cert, node, clk, log)
	docs := docrepo.NewRepository(db)
	queue, err := dispatch.NewQueue(db, holder, node, clk, log)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	asm := docservice.NewAssembler(docs, taxes, folios, nullSigner{}, cert, queue, node, clk, log)
	sched, err := dispatch.New(dispatch.Params{
		DB: db, Log: log, Holder: holder, Queue: queue, Docs: docs,
		Asm: asm, Folios: folios, Signer: nullSigner{}, Cert: cert,
		GenID: node, Clock: clk,
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	cfg := config.Config{HTTPAddr: ":0"}
	engine := NewEngine(cfg, log)
	NewServer(ServerParams{
		Gin: engine, Cfg: cfg, GenID: node,
		TaxSvc: taxes, FolioSvc: folios, Assembler: asm, Scheduler: sched,
		Printer: pdfprovider.New(), Mailer: &email.NoOpProvider{},
	})

	ts := &testServer{engine: engine, companyID: node.Generate()}

	vat, err := taxes.Create(context.Background(), &taxdomain.TaxDefinition{
		CompanyID:     ts.companyID,
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
	ts.vatID = vat.ID

	seq, err := folios.CreateSequence(context.Background(), &foliodomain.Sequence{
		CompanyID:         ts.companyID,
		CompanyRUT:        testRUT,
		DocumentClassCode: 33,
	})
	if err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	caf := fmt.Sprintf(`<AUTORIZACION><CAF version="1.0"><DA><RE>%s</RE><RS>EMPRESA DE PRUEBA SA</RS><TD>33</TD><RNG><D>1</D><H>100</H></RNG><FA>2026-02-15</FA></DA></CAF></AUTORIZACION>`, testRUT)
	if _, err := folios.RegisterCAF(context.Background(), seq.ID, []byte(caf)); err != nil {
		t.Fatalf("register caf: %v", err)
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) emitRequest() map[string]any {
	return map[string]any{
		"company_id":          ts.companyID.String(),
		"document_class_code": 33,
		"issuer": map[string]any{
			"tax_id": testRUT, "name": "Empresa de Prueba SA",
			"address": "Av. Siempre Viva 123", "commune": "Santiago", "city": "Santiago",
		},
		"receiver": map[string]any{
			"tax_id": "60803000-K", "name": "Cliente SpA",
			"address": "Moneda 975", "commune": "Santiago", "city": "Santiago",
		},
		"currency":   "CLP",
		"issue_date": "2026-03-01",
		"lines": []map[string]any{{
			"sequence":   1,
			"name":       "Producto afecto",
			"quantity":   "1",
			"unit_price": "1190",
			"tax_ids":    []string{ts.vatID.String()},
		}},
	}
}

func TestEmitDocumentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/documents", ts.emitRequest())
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			ID          string `json:"id"`
			Folio       int64  `json:"folio"`
			NetAmount   string `json:"net_amount"`
			TotalAmount string `json:"total_amount"`
			State       string `json:"state"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Data.Folio)
	assert.Equal(t, "1000", resp.Data.NetAmount)
	assert.Equal(t, "1190", resp.Data.TotalAmount)
	assert.Equal(t, string(docdomain.StateQueued), resp.Data.State)

	got := ts.do(t, http.MethodGet, "/v1/documents/"+resp.Data.ID, nil)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestEmitDocumentValidationEnvelope(t *testing.T) {
	ts := newTestServer(t)

	// Credit note without a reference: rejected before a folio moves.
	body := ts.emitRequest()
	body["document_class_code"] = 61
	rec := ts.do(t, http.MethodPost, "/v1/documents", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Type)
}

func TestSequenceAvailableEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet,
		fmt.Sprintf("/v1/sequences/33/available?company_id=%s", ts.companyID.String()), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Available  int64 `json:"available"`
			NextNumber int64 `json:"next_number"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.Data.Available)
	assert.Equal(t, int64(1), resp.Data.NextNumber)
}

func TestCancelDocumentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/documents", ts.emitRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	cancelled := ts.do(t, http.MethodPost, "/v1/documents/"+resp.Data.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, cancelled.Code, cancelled.Body.String())

	var cancelResp struct {
		Data struct {
			State string `json:"state"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(cancelled.Body.Bytes(), &cancelResp))
	assert.Equal(t, string(docdomain.StateCancelled), cancelResp.Data.State)
}

func TestPrintedCopyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/documents", ts.emitRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	pdfRec := ts.do(t, http.MethodGet, "/v1/documents/"+resp.Data.ID+"/pdf", nil)
	assert.Equal(t, http.StatusOK, pdfRec.Code)
	assert.Equal(t, "application/pdf", pdfRec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(pdfRec.Body.Bytes(), []byte("%PDF")))
}

func TestDeliverDocumentEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/documents", ts.emitRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	delivered := ts.do(t, http.MethodPost, "/v1/documents/"+resp.Data.ID+"/deliver",
		map[string]any{"email": "cliente@example.cl"})
	assert.Equal(t, http.StatusOK, delivered.Code, delivered.Body.String())

	missing := ts.do(t, http.MethodPost, "/v1/documents/"+resp.Data.ID+"/deliver",
		map[string]any{"email": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestGetDocumentNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/documents/123456789", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
