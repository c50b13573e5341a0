package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"browsergrid/internal/session"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrMissingProjectScope = errors.New("missing project scope")
	ErrInvalidStatusFilter = errors.New("invalid status filter")
)

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// mapServiceError turns the orchestrator's error taxonomy into HTTP
// status codes, so clients can tell a bad request from a platform
// placement failure from a container that never became reachable.
func mapServiceError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, session.ErrProvisioningTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrProvisioningFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
