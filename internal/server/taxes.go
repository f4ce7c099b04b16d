package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

type createTaxDefinitionRequest struct {
	CompanyID         string  `json:"company_id"`
	Name              string  `json:"name"`
	AuthorityCode     int     `json:"authority_code"`
	AmountType        string  `json:"amount_type"`
	Amount            string  `json:"amount"`
	PriceInclude      bool    `json:"price_include"`
	IncludeBaseAmount bool    `json:"include_base_amount"`
	RetentionRate     *string `json:"retention_rate,omitempty"`
}

func (s *Server) CreateTaxDefinition(c *gin.Context) {
	var req createTaxDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	companyID, err := parseID(req.CompanyID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	def := &taxdomain.TaxDefinition{
		CompanyID:         companyID,
		Name:              strings.TrimSpace(req.Name),
		AuthorityCode:     req.AuthorityCode,
		AmountType:        taxdomain.AmountType(strings.TrimSpace(req.AmountType)),
		Amount:            amount,
		PriceInclude:      req.PriceInclude,
		IncludeBaseAmount: req.IncludeBaseAmount,
		IsEnabled:         true,
	}
	if req.RetentionRate != nil {
		rate, err := decimal.NewFromString(strings.TrimSpace(*req.RetentionRate))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		def.RetentionRate = rate
	}

	created, err := s.taxSvc.Create(c.Request.Context(), def)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": created})
}

func (s *Server) ListTaxDefinitions(c *gin.Context) {
	companyID, err := parseID(c.Query("company_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	defs, err := s.taxSvc.List(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": defs})
}

func parseID(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
