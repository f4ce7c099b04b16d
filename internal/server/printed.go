package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
	"github.com/andinasoft/dte/internal/providers/email"
	"github.com/andinasoft/dte/internal/providers/pdf"
)

// PrintedCopy streams the PDF rendering of an issued document.
func (s *Server) PrintedCopy(c *gin.Context) {
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
	reader, err := s.renderPrintedCopy(c, doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rendered, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", printedFilename(doc)))
	c.Data(http.StatusOK, "application/pdf", rendered)
}

type deliverDocumentRequest struct {
	Email string `json:"email"`
}

// DeliverDocument mails the printed copy and the signed XML to the
// receiver.
func (s *Server) DeliverDocument(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req deliverDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to := strings.TrimSpace(req.Email)
	if to == "" || !strings.Contains(to, "@") {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	doc, err := s.assembler.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	reader, err := s.renderPrintedCopy(c, doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rendered, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	class, _ := docdomain.ClassByCode(doc.DocumentClassCode)
	subject := fmt.Sprintf("%s N° %d", class.Name, doc.Folio)
	body := fmt.Sprintf("<p>Adjuntamos %s N° %d, emitida el %s.</p>",
		class.Name, doc.Folio, doc.IssueDate.Format("2006-01-02"))

	attachments := []email.Attachment{
		{Filename: printedFilename(doc), ContentType: "application/pdf", Content: rendered},
	}
	if len(doc.SignedXML) > 0 {
		attachments = append(attachments, email.Attachment{
			Filename:    fmt.Sprintf("DTE_%d_%d.xml", doc.DocumentClassCode, doc.Folio),
			ContentType: "application/xml",
			Content:     doc.SignedXML,
		})
	}
	if err := s.mailer.Send(c.Request.Context(), []string{to}, subject, body, attachments...); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"delivered_to": to}})
}

func (s *Server) renderPrintedCopy(c *gin.Context, doc *docdomain.AssembledDocument) (io.Reader, error) {
	var source docdomain.Transaction
	if err := json.Unmarshal(doc.Source, &source); err != nil {
		return nil, err
	}
	class, _ := docdomain.ClassByCode(doc.DocumentClassCode)

	data := pdf.DocumentData{
		IssuerName:      source.Issuer.Name,
		IssuerRUT:       source.Issuer.TaxID,
		IssuerAddress:   source.Issuer.Address,
		ClassName:       class.Name,
		Folio:           fmt.Sprintf("%d", doc.Folio),
		IssueDate:       doc.IssueDate.Format("2006-01-02"),
		ReceiverName:    source.Receiver.Name,
		ReceiverRUT:     source.Receiver.TaxID,
		ReceiverAddress: source.Receiver.Address,
		NetAmount:       doc.NetAmount.String(),
		ExemptAmount:    doc.ExemptAmount.String(),
		TaxAmount:       doc.TaxAmount.String(),
		TotalAmount:     doc.TotalAmount.String(),
		Stamp:           doc.Stamp,
	}
	for _, line := range source.Lines {
		data.Items = append(data.Items, pdf.DocumentItem{
			Name:      line.Name,
			Quantity:  line.Quantity.String(),
			UnitPrice: line.UnitPrice.String(),
			Amount:    line.Quantity.Mul(line.UnitPrice).String(),
		})
	}
	return s.printer.RenderDocument(c.Request.Context(), data)
}

func printedFilename(doc *docdomain.AssembledDocument) string {
	return fmt.Sprintf("DTE_%d_%d.pdf", doc.DocumentClassCode, doc.Folio)
}
