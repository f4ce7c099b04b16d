package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	authoritydomain "github.com/andinasoft/dte/internal/authority/domain"
	docdomain "github.com/andinasoft/dte/internal/document/domain"
	foliodomain "github.com/andinasoft/dte/internal/folio/domain"
	taxdomain "github.com/andinasoft/dte/internal/tax/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrRateLimited      = errors.New("rate_limited")
	ErrCancelInProgress = errors.New("cancel_in_progress")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}
		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, docdomain.ErrDocumentClassMismatch),
		errors.Is(err, docdomain.ErrMissingReference),
		errors.Is(err, docdomain.ErrInvalidGlobalAdjustment),
		errors.Is(err, docdomain.ErrInvalidReceiver),
		errors.Is(err, docdomain.ErrUnknownDocumentClass),
		errors.Is(err, foliodomain.ErrInvalidCAF),
		errors.Is(err, foliodomain.ErrCAFMismatch),
		errors.Is(err, taxdomain.ErrInvalidTaxMix),
		errors.Is(err, taxdomain.ErrInvalidRate),
		errors.Is(err, taxdomain.ErrInvalidAmountType):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case errors.Is(err, docdomain.ErrNotFound),
		errors.Is(err, foliodomain.ErrNotFound),
		errors.Is(err, taxdomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, docdomain.ErrNotCancellable),
		errors.Is(err, ErrCancelInProgress):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, foliodomain.ErrSequenceExhausted),
		errors.Is(err, foliodomain.ErrNoAuthorizationAvailable),
		errors.Is(err, foliodomain.ErrAuthorizationExpired):
		return http.StatusConflict, errorPayload{Type: "folio_unavailable", Message: err.Error()}
	case errors.Is(err, authoritydomain.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "tax authority unavailable"}
	case errors.Is(err, authoritydomain.ErrRemoteRejected):
		return http.StatusBadGateway, errorPayload{Type: "remote_rejected", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
