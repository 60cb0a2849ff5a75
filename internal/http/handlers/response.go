// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, fail/failErr and the success writers. 5xx responses are logged
// with the request-scoped logger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-consult-chat/internal/http/middleware"
	"github.com/tbourn/go-consult-chat/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"forbidden"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"forbidden"`
}

// fail aborts the request with a structured error.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error onto its status and code. Fatal errors are
// logged in full but reach the client as a generic message.
func failErr(c *gin.Context, err error) {
	switch services.Classify(err) {
	case services.KindUnauthenticated:
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credential")
	case services.KindForbidden:
		fail(c, http.StatusForbidden, ErrCodeForbidden, "forbidden")
	case services.KindInvalidInput:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case services.KindTransient:
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
