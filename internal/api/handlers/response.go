package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
)

// respondError maps a domain error to an HTTP status and a stable error
// envelope.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case domainerrors.IsValidation(err):
		status = http.StatusBadRequest
	case domainerrors.IsNotFound(err):
		status = http.StatusNotFound
	case domainerrors.IsInsufficientBalance(err):
		status = http.StatusUnprocessableEntity
	case domainerrors.IsConsistency(err):
		status = http.StatusConflict
	case domainerrors.IsTransient(err):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    domainerrors.GetErrorCode(err),
			"message": err.Error(),
		},
	})
}
