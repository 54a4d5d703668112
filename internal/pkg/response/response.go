// Package response provides the uniform JSON envelope used by handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/errors"
)

// Success writes a 200 with the standard data envelope.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

// BadRequest writes a 400 with a plain message.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apperrors.Status{
		Code:    http.StatusBadRequest,
		Reason:  apperrors.ReasonBadRequest,
		Message: message,
	})
}

// ErrorFrom maps an application error onto the wire.
func ErrorFrom(c *gin.Context, err error) {
	status, body := apperrors.ToHTTP(err)
	c.JSON(status, body)
}
