package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

type emitLineRequest struct {
	Sequence        int      `json:"sequence"`
	ProductCode     string   `json:"product_code"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Quantity        string   `json:"quantity"`
	Unit            string   `json:"unit"`
	UnitPrice       string   `json:"unit_price"`
	DiscountPercent string   `json:"discount_percent"`
	TaxIDs          []string `json:"tax_ids"`
	Exempt          bool     `json:"exempt"`
	NoProduct       bool     `json:"no_product"`
}

type emitPartyRequest struct {
	TaxID        string `json:"tax_id"`
	Name         string `json:"name"`
	Activity     string `json:"activity"`
	ActivityCode int    `json:"activity_code"`
	Address      string `json:"address"`
	Commune      string `json:"commune"`
	City         string `json:"city"`
}

type emitReferenceRequest struct {
	DocumentClassCode int    `json:"document_class_code"`
	Folio             int64  `json:"folio"`
	Date              string `json:"date"`
	Reason            int    `json:"reason"`
	Description       string `json:"description"`
}

type emitAdjustmentRequest struct {
	Kind        string `json:"kind"`
	ValueType   string `json:"value_type"`
	Value       string `json:"value"`
	Scope       string `json:"scope"`
	Description string `json:"description"`
}

type emitDocumentRequest struct {
	CompanyID         string                  `json:"company_id"`
	DocumentClassCode int                     `json:"document_class_code"`
	Issuer            emitPartyRequest        `json:"issuer"`
	Receiver          emitPartyRequest        `json:"receiver"`
	Currency          string                  `json:"currency"`
	CurrencyRate      string                  `json:"currency_rate"`
	CurrencyPrecision int                     `json:"currency_precision"`
	Lines             []emitLineRequest       `json:"lines"`
	References        []emitReferenceRequest  `json:"references"`
	Adjustments       []emitAdjustmentRequest `json:"adjustments"`
	PaymentTerm       int                     `json:"payment_term"`
	IssueDate         string                  `json:"issue_date"`
	DueDate           string                  `json:"due_date"`
	GrossPrices       bool                    `json:"gross_prices"`
}

func (s *Server) EmitDocument(c *gin.Context) {
	var req emitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	allowed, err := s.limiter.AllowCompany(c.Request.Context(), tx.CompanyID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}
	doc, err := s.assembler.Assemble(c.Request.Context(), tx, docdomain.AssemblyOptions{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": documentView(doc)})
}

func (s *Server) GetDocument(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	doc, err := s.assembler.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": documentView(doc)})
}

type buildNoteRequest struct {
	Kind        string `json:"kind"`
	Reason      int    `json:"reason"`
	Description string `json:"description"`
}

func (s *Server) BuildNote(c *gin.Context) {
	baseID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req buildNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	note, err := s.assembler.BuildNote(
		c.Request.Context(),
		baseID,
		docdomain.Kind(strings.TrimSpace(req.Kind)),
		docdomain.ReferenceReason(req.Reason),
		strings.TrimSpace(req.Description),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": documentView(note)})
}

func (s *Server) CancelDocument(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	token, locked, err := s.limiter.TryLockDocument(c.Request.Context(), id.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !locked {
		AbortWithError(c, ErrCancelInProgress)
		return
	}
	defer func() {
		_ = s.limiter.ReleaseDocument(c.Request.Context(), id.String(), token)
	}()

	if err := s.scheduler.Cancel(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.assembler.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": documentView(doc)})
}

func documentView(doc *docdomain.AssembledDocument) gin.H {
	return gin.H{
		"id":                  doc.ID,
		"document_class_code": doc.DocumentClassCode,
		"folio":               doc.Folio,
		"issue_date":          doc.IssueDate,
		"currency":            doc.Currency,
		"net_amount":          doc.NetAmount,
		"exempt_amount":       doc.ExemptAmount,
		"tax_amount":          doc.TaxAmount,
		"retained_tax":        doc.RetainedTax,
		"total_amount":        doc.TotalAmount,
		"state":               doc.State,
		"tracking_id":         doc.TrackingID,
		"stamp":               doc.Stamp,
	}
}

func (r emitDocumentRequest) toTransaction() (docdomain.Transaction, error) {
	companyID, err := parseID(r.CompanyID)
	if err != nil {
		return docdomain.Transaction{}, ErrInvalidRequest
	}
	issueDate, err := time.Parse("2006-01-02", r.IssueDate)
	if err != nil {
		return docdomain.Transaction{}, ErrInvalidRequest
	}
	tx := docdomain.Transaction{
		CompanyID:         companyID,
		DocumentClassCode: r.DocumentClassCode,
		Issuer:            r.Issuer.toParty(),
		Receiver:          r.Receiver.toParty(),
		Currency:          strings.TrimSpace(r.Currency),
		CurrencyPrecision: r.CurrencyPrecision,
		PaymentTerm:       r.PaymentTerm,
		IssueDate:         issueDate,
		GrossPrices:       r.GrossPrices,
	}
	if r.CurrencyRate != "" {
		rate, err := decimal.NewFromString(r.CurrencyRate)
		if err != nil {
			return docdomain.Transaction{}, ErrInvalidRequest
		}
		tx.CurrencyRate = rate
	}
	if r.DueDate != "" {
		due, err := time.Parse("2006-01-02", r.DueDate)
		if err != nil {
			return docdomain.Transaction{}, ErrInvalidRequest
		}
		tx.DueDate = &due
	}
	for _, line := range r.Lines {
		parsed, err := line.toLine()
		if err != nil {
			return docdomain.Transaction{}, err
		}
		tx.Lines = append(tx.Lines, parsed)
	}
	for _, ref := range r.References {
		date, err := time.Parse("2006-01-02", ref.Date)
		if err != nil {
			return docdomain.Transaction{}, ErrInvalidRequest
		}
		tx.References = append(tx.References, docdomain.Reference{
			DocumentClassCode: ref.DocumentClassCode,
			Folio:             ref.Folio,
			Date:              date,
			Reason:            docdomain.ReferenceReason(ref.Reason),
			Description:       ref.Description,
		})
	}
	for _, adj := range r.Adjustments {
		value, err := decimal.NewFromString(adj.Value)
		if err != nil {
			return docdomain.Transaction{}, ErrInvalidRequest
		}
		tx.Adjustments = append(tx.Adjustments, docdomain.GlobalAdjustment{
			Kind:        docdomain.AdjustmentKind(adj.Kind),
			ValueType:   docdomain.AdjustmentValueType(adj.ValueType),
			Value:       value,
			Scope:       docdomain.AdjustmentScope(adj.Scope),
			Description: adj.Description,
		})
	}
	return tx, nil
}

func (p emitPartyRequest) toParty() docdomain.Party {
	return docdomain.Party{
		TaxID:        strings.TrimSpace(p.TaxID),
		Name:         strings.TrimSpace(p.Name),
		Activity:     p.Activity,
		ActivityCode: p.ActivityCode,
		Address:      p.Address,
		Commune:      p.Commune,
		City:         p.City,
	}
}

func (l emitLineRequest) toLine() (docdomain.Line, error) {
	line := docdomain.Line{
		Sequence:    l.Sequence,
		ProductCode: l.ProductCode,
		Name:        strings.TrimSpace(l.Name),
		Description: l.Description,
		Unit:        l.Unit,
		Exempt:      l.Exempt,
		NoProduct:   l.NoProduct,
	}
	if l.NoProduct {
		return line, nil
	}
	qty, err := decimal.NewFromString(l.Quantity)
	if err != nil {
		return docdomain.Line{}, ErrInvalidRequest
	}
	price, err := decimal.NewFromString(l.UnitPrice)
	if err != nil {
		return docdomain.Line{}, ErrInvalidRequest
	}
	line.Quantity = qty
	line.UnitPrice = price
	if l.DiscountPercent != "" {
		disc, err := decimal.NewFromString(l.DiscountPercent)
		if err != nil {
			return docdomain.Line{}, ErrInvalidRequest
		}
		line.DiscountPercent = disc
	}
	for _, raw := range l.TaxIDs {
		id, err := parseID(raw)
		if err != nil {
			return docdomain.Line{}, ErrInvalidRequest
		}
		line.TaxIDs = append(line.TaxIDs, id)
	}
	return line, nil
}
