package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/overturn/internal/application/intake"
	"github.com/garyjia/overturn/internal/application/lifecycle"
	"github.com/garyjia/overturn/internal/application/port"
)

// Response represents a standard JSON response
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Redirect string      `json:"redirect,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Error: msg})
}

// statusFor maps application errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrClaimNotFound), errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrTransitionInFlight),
		errors.Is(err, lifecycle.ErrLetterLocked):
		return http.StatusConflict
	case errors.Is(err, intake.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrNotPDF):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, intake.ErrEmptyDocument):
		return http.StatusBadRequest
	case lifecycle.IsTransient(err),
		errors.Is(err, lifecycle.ErrStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server errors are logged
// and their detail is withheld.
func (h *Handlers) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
	}
	if status == http.StatusInternalServerError {
		fail(c, status, msg)
		return
	}
	fail(c, status, err.Error())
}
