package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
)

type createSequenceRequest struct {
	CompanyID         string `json:"company_id"`
	CompanyRUT        string `json:"company_rut"`
	DocumentClassCode int    `json:"document_class_code"`
	MinimumLevel      int64  `json:"minimum_level"`
	AutoReplenish     bool   `json:"auto_replenish"`
	ReplenishQuantity int64  `json:"replenish_quantity"`
}

func (s *Server) CreateSequence(c *gin.Context) {
	var req createSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	companyID, err := parseID(req.CompanyID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	seq, err := s.folioSvc.CreateSequence(c.Request.Context(), &foliodomain.Sequence{
		CompanyID:         companyID,
		CompanyRUT:        strings.TrimSpace(req.CompanyRUT),
		DocumentClassCode: req.DocumentClassCode,
		MinimumLevel:      req.MinimumLevel,
		AutoReplenish:     req.AutoReplenish,
		ReplenishQuantity: req.ReplenishQuantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": seq})
}

func (s *Server) SequenceAvailable(c *gin.Context) {
	classCode, err := strconv.Atoi(c.Param("code"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	companyID, err := parseID(c.Query("company_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	seq, err := s.folioSvc.SequenceByClass(c.Request.Context(), companyID, classCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	available, err := s.folioSvc.Available(c.Request.Context(), seq.ID, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"document_class_code": classCode,
		"next_number":         seq.NextNumber,
		"available":           available,
	}})
}

type registerCAFRequest struct {
	CompanyID         string `json:"company_id"`
	DocumentClassCode int    `json:"document_class_code"`
	// RawXML is the authorization file exactly as downloaded.
	RawXML string `json:"raw_xml"`
}

func (s *Server) RegisterCAF(c *gin.Context) {
	var req registerCAFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	companyID, err := parseID(req.CompanyID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	seq, err := s.folioSvc.SequenceByClass(c.Request.Context(), companyID, req.DocumentClassCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	caf, err := s.folioSvc.RegisterCAF(c.Request.Context(), seq.ID, []byte(req.RawXML))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":                  caf.ID,
		"document_class_code": caf.DocumentClassCode,
		"start_number":        caf.StartNumber,
		"final_number":        caf.FinalNumber,
		"expiration_date":     caf.ExpirationDate,
		"status":              caf.Status,
	}})
}
