package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/pkg/errors"
)

// SuccessResponse writes a standard success envelope
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// ErrorResponse writes a standard error envelope. Provider errors expose
// only their user-visible message; raw upstream text never leaves the server.
func ErrorResponse(c *gin.Context, status int, err error) {
	message := "An unexpected error occurred. Please try again."
	errorType := string(errors.ErrorTypeUnknown)

	if pe := errors.Classify(err); pe != nil {
		message = pe.UserMessage()
		errorType = string(pe.Type)
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"type":    errorType,
			"message": message,
		},
	})
}
