package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
)

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransferInProgress),
		errors.Is(err, domain.ErrSessionTerminal),
		errors.Is(err, domain.ErrSessionDisposed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingFilename), errors.Is(err, domain.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrManagerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTokenUnavailable), errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrHTTPStatus):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotAVideo):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Transfer and auth failures carry their
// kind and the user-facing message instead of raw transport text.
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	body := gin.H{"error": err.Error()}
	if kind := domain.ErrorKind(err); kind != "internal" {
		body["error"] = domain.UserMessage(err)
		body["error_kind"] = kind
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}
