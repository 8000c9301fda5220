package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/apperr"
)

// respondOK writes the success envelope.
func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondMessage writes a success envelope with a human message only.
func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": true,
		"message": message,
	})
}

// respondError maps an application error to its stable HTTP status and
// writes the failure envelope. Unclassified errors become 500 with a generic
// message; internal detail is logged, never returned.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(apperr.KindOf(err))
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   apperr.MessageOf(err),
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
